package tfs

import (
	"context"
	"fmt"
	"sync"

	"github.com/microsoft/azure-devops-go-api/azuredevops/v7"
	"github.com/softwareforge/forge/internal/config"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// Credentials produce the Authorization header for server requests.
type Credentials interface {
	AuthorizationHeader(ctx context.Context) (string, error)
	// Reset drops any cached token so the next header is freshly issued.
	Reset()
}

// NewCredentials builds credentials for the configured auth mode.
func NewCredentials(cfg config.TFSConfig) (Credentials, error) {
	switch cfg.AuthMode {
	case config.AuthModePAT:
		return PATCredentials{Token: cfg.PAT}, nil
	case config.AuthModeOAuth2:
		return NewOAuth2Credentials(&clientcredentials.Config{
			ClientID:     cfg.OAuth2ClientID,
			ClientSecret: cfg.OAuth2ClientSecret.Value(),
			TokenURL:     cfg.OAuth2TokenURL,
			Scopes:       cfg.OAuth2Scopes,
		}), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode %q", cfg.AuthMode)
	}
}

// PATCredentials authenticate with a personal access token.
type PATCredentials struct {
	Token config.Secret
}

func (p PATCredentials) AuthorizationHeader(context.Context) (string, error) {
	if !p.Token.IsSet() {
		return "", fmt.Errorf("%w: personal access token is empty", ErrUnauthorized)
	}
	return azuredevops.CreateBasicAuthHeaderValue("", p.Token.Value()), nil
}

func (PATCredentials) Reset() {}

// OAuth2Credentials obtain bearer tokens with the client credentials grant.
type OAuth2Credentials struct {
	cfg *clientcredentials.Config

	mu     sync.Mutex
	source oauth2.TokenSource
}

// NewOAuth2Credentials creates credentials backed by cfg.
func NewOAuth2Credentials(cfg *clientcredentials.Config) *OAuth2Credentials {
	return &OAuth2Credentials{cfg: cfg}
}

func (o *OAuth2Credentials) AuthorizationHeader(ctx context.Context) (string, error) {
	o.mu.Lock()
	if o.source == nil {
		// The token source outlives ctx, so it gets its own.
		o.source = o.cfg.TokenSource(context.WithoutCancel(ctx))
	}
	source := o.source
	o.mu.Unlock()

	tok, err := source.Token()
	if err != nil {
		return "", fmt.Errorf("%w: fetching oauth2 token: %v", ErrUnauthorized, err)
	}
	return tok.Type() + " " + tok.AccessToken, nil
}

func (o *OAuth2Credentials) Reset() {
	o.mu.Lock()
	o.source = nil
	o.mu.Unlock()
}
