package tfs

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/softwareforge/forge/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2/clientcredentials"
)

func TestPATCredentials(t *testing.T) {
	creds, err := NewCredentials(config.TFSConfig{AuthMode: config.AuthModePAT, PAT: config.Secret("s3cret")})
	require.NoError(t, err)

	header, err := creds.AuthorizationHeader(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Basic "+base64.StdEncoding.EncodeToString([]byte(":s3cret")), header)

	_, err = PATCredentials{}.AuthorizationHeader(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestOAuth2Credentials_CachesUntilReset(t *testing.T) {
	var issued atomic.Int32
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := issued.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-` + string(rune('0'+n)) + `","token_type":"Bearer","expires_in":3600}`))
	}))
	defer tokenServer.Close()

	creds := NewOAuth2Credentials(&clientcredentials.Config{
		ClientID:     "forge",
		ClientSecret: "secret",
		TokenURL:     tokenServer.URL,
	})
	ctx := context.Background()

	h1, err := creds.AuthorizationHeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-1", h1)

	h2, err := creds.AuthorizationHeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, int32(1), issued.Load())

	creds.Reset()
	h3, err := creds.AuthorizationHeader(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-2", h3)
}

func TestOAuth2Credentials_TokenEndpointFailure(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_client"}`, http.StatusUnauthorized)
	}))
	defer tokenServer.Close()

	creds := NewOAuth2Credentials(&clientcredentials.Config{ClientID: "x", ClientSecret: "y", TokenURL: tokenServer.URL})
	_, err := creds.AuthorizationHeader(context.Background())
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestNewCredentials_UnknownMode(t *testing.T) {
	_, err := NewCredentials(config.TFSConfig{AuthMode: "kerberos"})
	assert.Error(t, err)
}
