package shared

import (
	"fmt"
	"os/exec"
	"runtime"
)

var goos = runtime.GOOS

// OpenBrowser launches the system browser at url so the user can complete an
// authorization flow. Callers fall back to printing the URL when this fails.
func OpenBrowser(url string) error {
	var name string
	var args []string

	switch goos {
	case "darwin":
		name = "open"
	case "linux":
		name = "xdg-open"
	case "windows":
		name, args = "cmd", []string{"/c", "start"}
	default:
		return fmt.Errorf("no known browser opener for %s", goos)
	}

	if err := exec.Command(name, append(args, url)...).Start(); err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	return nil
}
