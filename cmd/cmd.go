// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   "config.toml",
	}
}

// setupCommand initializes the config file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "setup",
		Usage:  "Initialize configuration and run database migrations",
		Flags:  []cli.Flag{configFlag()},
		Action: r.Setup,
	}
}

// authCommand obtains and stores a bearer credential for a backend.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a backend and store the credential",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "backend"},
		},
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "api-key",
				Usage: "API key for backends that issue session tokens directly",
			},
			&cli.StringFlag{
				Name:  "access-token",
				Usage: "Pre-issued access token, skips the interactive flow",
			},
			&cli.BoolFlag{
				Name:  "no-browser",
				Usage: "Print the authorization URL instead of opening a browser",
			},
		},
		Action: r.Auth,
	}
}

// fetchCommand acquires a track from a backend.
func fetchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "fetch",
		Usage: "Acquire a track from a backend and write it to disk",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "backend"},
			&cli.StringArg{Name: "track"},
		},
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"o"},
				Usage:    "Output file path",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress progress output",
			},
		},
		Action: r.Fetch,
	}
}

// metaCommand fetches track metadata.
func metaCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "meta",
		Usage: "Fetch catalog metadata for a track",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "backend"},
			&cli.StringArg{Name: "track"},
		},
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
				Value: true,
			},
		},
		Action: r.Meta,
	}
}

// statusCommand reports the archived outcome of one job.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show the archived outcome of a job by id",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "job"},
		},
		Flags: []cli.Flag{
			configFlag(),
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
				Value: true,
			},
		},
		Action: r.Status,
	}
}

// cancelCommand requests cancellation of a job.
func cancelCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cancel",
		Usage: "Cancel a job by id",
		Arguments: []cli.Argument{
			&cli.StringArg{Name: "job"},
		},
		Flags:  []cli.Flag{configFlag()},
		Action: r.CancelJob,
	}
}

// jobsCommand lists archived acquisition jobs.
func jobsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "List terminal acquisition jobs",
		Flags: []cli.Flag{
			configFlag(),
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Filter by backend id",
			},
			&cli.StringFlag{
				Name:  "state",
				Usage: "Filter by terminal state (completed, failed)",
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Jobs,
	}
}
