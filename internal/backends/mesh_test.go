package backends

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/desertthunder/trax/internal/models"
	"github.com/desertthunder/trax/internal/shared"
)

func meshConfig(baseURL string) shared.BackendConfig {
	return shared.BackendConfig{
		Delivery:       shared.DeliveryPeer,
		BaseURL:        baseURL,
		PollIntervalMS: 1000,
		PollBudget:     60,
	}
}

func meshCredential() *models.Credential {
	return models.NewCredential(0, "mesh", "session-token", "", "transfer", time.Now().Add(time.Hour))
}

func TestMeshAdapter(t *testing.T) {
	ctx := context.Background()

	t.Run("Identity", func(t *testing.T) {
		adapter := NewMeshAdapter("mesh", meshConfig("https://hub.example.net"))
		if adapter.Name() != "mesh" || adapter.Delivery() != DeliveryPeer {
			t.Errorf("unexpected identity: %s/%s", adapter.Name(), adapter.Delivery())
		}
	})

	t.Run("Authenticate", func(t *testing.T) {
		t.Run("Exchanges API Key", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/session" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}

				var body map[string]string
				json.NewDecoder(r.Body).Decode(&body)
				if body["api_key"] != "key-123" {
					t.Errorf("unexpected api key %q", body["api_key"])
				}

				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(meshSession{Token: "session-token", ExpiresIn: 3600})
			}))
			defer server.Close()

			adapter := NewMeshAdapter("mesh", meshConfig(server.URL))

			cred, err := adapter.Authenticate(ctx, map[string]string{"api_key": "key-123"})
			if err != nil {
				t.Fatalf("failed to authenticate: %v", err)
			}
			if cred.AccessToken() != "session-token" {
				t.Errorf("expected session token, got %s", cred.AccessToken())
			}
			if cred.Refreshable() {
				t.Error("expected session credential without refresh token")
			}
			if cred.ExpiresAt().IsZero() {
				t.Error("expected expiry from session TTL")
			}
		})

		t.Run("Session Without TTL Never Expires", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(meshSession{Token: "session-token"})
			}))
			defer server.Close()

			adapter := NewMeshAdapter("mesh", meshConfig(server.URL))

			cred, err := adapter.Authenticate(ctx, map[string]string{"api_key": "key-123"})
			if err != nil {
				t.Fatalf("failed to authenticate: %v", err)
			}
			if !cred.ExpiresAt().IsZero() {
				t.Errorf("expected zero expiry, got %v", cred.ExpiresAt())
			}
		})

		t.Run("Missing API Key", func(t *testing.T) {
			adapter := NewMeshAdapter("mesh", meshConfig("https://hub.example.net"))
			if _, err := adapter.Authenticate(ctx, nil); !errors.Is(err, shared.ErrMissingCredentials) {
				t.Errorf("expected ErrMissingCredentials, got %v", err)
			}
		})
	})

	t.Run("Refresh Is Unsupported", func(t *testing.T) {
		adapter := NewMeshAdapter("mesh", meshConfig("https://hub.example.net"))
		if _, err := adapter.Refresh(ctx, meshCredential()); !errors.Is(err, shared.ErrNoRefreshToken) {
			t.Errorf("expected ErrNoRefreshToken, got %v", err)
		}
	})

	t.Run("InitiateTransfer", func(t *testing.T) {
		t.Run("Returns Handles", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/transfers" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				if auth := r.Header.Get("Authorization"); auth != "Bearer session-token" {
					t.Errorf("unexpected authorization header %q", auth)
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(meshTransfer{PeerRef: "peer-7", FileRef: "file-42"})
			}))
			defer server.Close()

			adapter := NewMeshAdapter("mesh", meshConfig(server.URL))

			peerRef, fileRef, err := adapter.InitiateTransfer(ctx, meshCredential(), "track-1")
			if err != nil {
				t.Fatalf("failed to initiate: %v", err)
			}
			if peerRef != "peer-7" || fileRef != "file-42" {
				t.Errorf("unexpected handles %s/%s", peerRef, fileRef)
			}
		})

		t.Run("Rejects Empty Handles", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(meshTransfer{})
			}))
			defer server.Close()

			adapter := NewMeshAdapter("mesh", meshConfig(server.URL))

			if _, _, err := adapter.InitiateTransfer(ctx, meshCredential(), "track-1"); !errors.Is(err, shared.ErrTransport) {
				t.Errorf("expected ErrTransport, got %v", err)
			}
		})
	})

	t.Run("PollTransfer", func(t *testing.T) {
		t.Run("Returns Remote Status", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/transfers/peer-7/file-42" {
					t.Errorf("unexpected path %s", r.URL.Path)
				}
				w.Header().Set("Content-Type", "application/json")
				json.NewEncoder(w).Encode(meshStatus{State: MeshStateMoving, Progress: 4096, Message: "halfway"})
			}))
			defer server.Close()

			adapter := NewMeshAdapter("mesh", meshConfig(server.URL))

			status, err := adapter.PollTransfer(ctx, meshCredential(), "peer-7", "file-42")
			if err != nil {
				t.Fatalf("failed to poll: %v", err)
			}
			if status.State != MeshStateMoving || status.Progress != 4096 || status.Message != "halfway" {
				t.Errorf("unexpected status: %+v", status)
			}
		})

		t.Run("Maps Gone Handle", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusNotFound)
			}))
			defer server.Close()

			adapter := NewMeshAdapter("mesh", meshConfig(server.URL))

			if _, err := adapter.PollTransfer(ctx, meshCredential(), "peer-7", "file-42"); !errors.Is(err, shared.ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	})

	t.Run("Retrieve", func(t *testing.T) {
		content := []byte("the acquired media bytes")

		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/transfers/peer-7/file-42/content" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			w.Write(content)
		}))
		defer server.Close()

		adapter := NewMeshAdapter("mesh", meshConfig(server.URL))

		body, err := adapter.Retrieve(ctx, meshCredential(), "peer-7", "file-42")
		if err != nil {
			t.Fatalf("failed to retrieve: %v", err)
		}
		defer body.Close()

		got, err := io.ReadAll(body)
		if err != nil {
			t.Fatalf("failed to read body: %v", err)
		}
		if string(got) != string(content) {
			t.Errorf("unexpected content %q", got)
		}
	})
}
