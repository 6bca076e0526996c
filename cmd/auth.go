package main

import (
	"context"
	"fmt"
	"net/url"

	"github.com/desertthunder/trax/internal/backends"
	"github.com/desertthunder/trax/internal/models"
	"github.com/desertthunder/trax/internal/server"
	"github.com/desertthunder/trax/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// Auth obtains a bearer credential for a backend and persists it.
//
// Vault-style backends use the OAuth2 authorization code flow through a one-shot
// local callback server; mesh-style backends exchange an API key for a session
// token. Either way the stored credential is what the engine's credential store
// hands to jobs.
func (r *Runner) Auth(ctx context.Context, cmd *cli.Command) error {
	r.loadConfig(cmd)

	backendID := cmd.StringArg("backend")
	if backendID == "" {
		return fmt.Errorf("%w: backend argument required", shared.ErrInvalidConfig)
	}

	cfg, ok := r.config.Backends[backendID]
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrUnknownBackend, backendID)
	}

	adapters, err := r.buildAdapters()
	if err != nil {
		return err
	}
	adapter, ok := adapters[backendID]
	if !ok {
		return fmt.Errorf("%w: backend %s is not fully configured", shared.ErrUnknownBackend, backendID)
	}

	var cred *models.Credential
	switch {
	case cmd.String("access-token") != "":
		cred, err = adapter.Authenticate(ctx, map[string]string{"access_token": cmd.String("access-token")})
	case cfg.Delivery == shared.DeliveryPeer:
		apiKey := cmd.String("api-key")
		if apiKey == "" {
			return fmt.Errorf("%w: --api-key required for backend %s", shared.ErrMissingCredentials, backendID)
		}
		cred, err = adapter.Authenticate(ctx, map[string]string{"api_key": apiKey})
	default:
		cred, err = r.interactiveOAuth(ctx, cmd, adapter.(*backends.VaultAdapter), cfg)
	}
	if err != nil {
		return fmt.Errorf("authentication failed: %w", err)
	}

	db, err := r.openDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	_, store, err := r.buildEngine(db, nil)
	if err != nil {
		return err
	}

	if err := store.Store(backendID, cred); err != nil {
		return err
	}

	r.logger.Info("credential stored", "backend", backendID, "expires_at", cred.ExpiresAt())
	return nil
}

// interactiveOAuth runs the authorization code flow: opens the provider's
// authorize URL, waits for the local callback, and exchanges the code.
func (r *Runner) interactiveOAuth(ctx context.Context, cmd *cli.Command, adapter *backends.VaultAdapter, cfg shared.BackendConfig) (*models.Credential, error) {
	state := shared.GenerateID()
	authURL := adapter.GetAuthURL(state)

	if cmd.Bool("no-browser") {
		r.writePlainln("Open this URL to authorize:\n\n  %s\n", authURL)
	} else if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warn("failed to open browser", "error", err)
		r.writePlainln("Open this URL to authorize:\n\n  %s\n", authURL)
	}

	redirect, err := url.Parse(cfg.RedirectURI)
	if err != nil {
		return nil, fmt.Errorf("%w: bad redirect_uri: %v", shared.ErrInvalidConfig, err)
	}

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURI,
		Endpoint: oauth2.Endpoint{
			AuthURL:  cfg.BaseURL + "/oauth/authorize",
			TokenURL: cfg.BaseURL + "/oauth/token",
		},
	}

	handler := server.NewOAuthHandler(oauthConfig, state)

	r.logger.Info("waiting for authorization callback", "addr", redirect.Host)

	token, err := server.ListenOnce(ctx, redirect.Host, redirect.Path, handler)
	if err != nil {
		return nil, err
	}

	return models.CredentialFromToken(adapter.Name(), token, "catalog-read stream-read"), nil
}
