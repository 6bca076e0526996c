// Package server provides the one-shot OAuth2 callback listener used to obtain
// an initial bearer credential for a backend.
//
// The [OAuthHandler] implements the authorization code callback flow: it
// validates the state parameter (CSRF protection), exchanges the authorization
// code for tokens, and sends the result through a channel. It only processes one
// callback to prevent replay attacks.
//
// When the user runs `trax auth <backend>`, [ListenOnce] starts a temporary HTTP
// server on the configured redirect address, handles the callback, and shuts
// down after delivering the token. Nothing here is part of the acquisition
// engine itself; the engine only ever sees the resulting credential.
package server
