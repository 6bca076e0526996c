package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"
)

func newTokenEndpoint(t *testing.T) *httptest.Server {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "exchanged-token",
			"refresh_token": "refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func newOAuthConfig(tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "http://localhost:8080/callback",
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}
}

func TestOAuthHandler(t *testing.T) {
	t.Run("Exchanges Valid Callback", func(t *testing.T) {
		tokenServer := newTokenEndpoint(t)
		handler := NewOAuthHandler(newOAuthConfig(tokenServer.URL), "state-123")

		req := httptest.NewRequest(http.MethodGet, "/callback?state=state-123&code=auth-code", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusOK {
			t.Errorf("expected 200, got %d", rec.Code)
		}

		result := <-handler.Result()
		if err := result.Error(); err != nil {
			t.Fatalf("expected token, got error: %v", err)
		}
		if result.Token.AccessToken != "exchanged-token" {
			t.Errorf("expected exchanged token, got %s", result.Token.AccessToken)
		}
	})

	t.Run("Rejects Wrong State", func(t *testing.T) {
		handler := NewOAuthHandler(newOAuthConfig("http://unused"), "state-123")

		req := httptest.NewRequest(http.MethodGet, "/callback?state=attacker&code=auth-code", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}

		result := <-handler.Result()
		if result.Error() == nil {
			t.Error("expected state validation error")
		}
	})

	t.Run("Rejects Missing Code", func(t *testing.T) {
		handler := NewOAuthHandler(newOAuthConfig("http://unused"), "state-123")

		req := httptest.NewRequest(http.MethodGet, "/callback?state=state-123&error=access_denied&error_description=denied", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		result := <-handler.Result()
		if err := result.Error(); err == nil || !strings.Contains(err.Error(), "access_denied") {
			t.Errorf("expected authorization error, got %v", err)
		}
	})

	t.Run("Handles Callback Once", func(t *testing.T) {
		tokenServer := newTokenEndpoint(t)
		handler := NewOAuthHandler(newOAuthConfig(tokenServer.URL), "state-123")

		first := httptest.NewRequest(http.MethodGet, "/callback?state=state-123&code=auth-code", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, first)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected first callback to succeed, got %d", rec.Code)
		}

		second := httptest.NewRequest(http.MethodGet, "/callback?state=state-123&code=other-code", nil)
		rec = httptest.NewRecorder()
		handler.ServeHTTP(rec, second)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("expected replayed callback to be rejected, got %d", rec.Code)
		}
	})
}

func TestListenOnce(t *testing.T) {
	t.Run("Returns On Context Cancellation", func(t *testing.T) {
		handler := NewOAuthHandler(newOAuthConfig("http://unused"), "state-123")

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err := ListenOnce(ctx, "127.0.0.1:0", "/callback", handler)
		if err != context.DeadlineExceeded {
			t.Errorf("expected context deadline, got %v", err)
		}
	})
}
