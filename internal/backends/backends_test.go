package backends

import (
	"errors"
	"testing"

	"github.com/desertthunder/trax/internal/shared"
)

func TestParseDeliveryMode(t *testing.T) {
	t.Run("Stream", func(t *testing.T) {
		mode, err := ParseDeliveryMode("stream")
		if err != nil {
			t.Fatalf("failed to parse: %v", err)
		}
		if mode != DeliveryStream {
			t.Errorf("expected stream, got %s", mode)
		}
	})

	t.Run("Peer", func(t *testing.T) {
		mode, err := ParseDeliveryMode("peer")
		if err != nil {
			t.Fatalf("failed to parse: %v", err)
		}
		if mode != DeliveryPeer {
			t.Errorf("expected peer, got %s", mode)
		}
	})

	t.Run("Unknown", func(t *testing.T) {
		if _, err := ParseDeliveryMode("smoke-signal"); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("Round Trips", func(t *testing.T) {
		for _, mode := range []DeliveryMode{DeliveryStream, DeliveryPeer} {
			parsed, err := ParseDeliveryMode(mode.String())
			if err != nil {
				t.Errorf("failed to round trip %s: %v", mode, err)
			}
			if parsed != mode {
				t.Errorf("expected %s, got %s", mode, parsed)
			}
		}
	})
}

func TestStatusError(t *testing.T) {
	cases := []struct {
		name string
		code int
		want error
	}{
		{"OK", 200, nil},
		{"Created", 201, nil},
		{"Unauthorized", 401, shared.ErrAuthDenied},
		{"Forbidden", 403, shared.ErrAuthDenied},
		{"Not Found", 404, shared.ErrNotFound},
		{"Rate Limited", 429, shared.ErrRateLimited},
		{"Server Error", 500, shared.ErrTransport},
		{"Bad Gateway", 502, shared.ErrTransport},
		{"Teapot", 418, shared.ErrTransport},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := StatusError(tc.code)
			if tc.want == nil {
				if err != nil {
					t.Errorf("expected nil for status %d, got %v", tc.code, err)
				}
				return
			}
			if !errors.Is(err, tc.want) {
				t.Errorf("expected %v for status %d, got %v", tc.want, tc.code, err)
			}
		})
	}
}
