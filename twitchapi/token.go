package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// DefaultTokenURL is the Twitch OAuth token endpoint.
const DefaultTokenURL = "https://id.twitch.tv/oauth2/token"

// TokenSource fetches and caches a Twitch app access (client credentials) token
// for Helix calls. Comment replay does not need it.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
	HTTPClient   *http.Client

	mu    sync.Mutex
	token *oauth2.Token
}

// tokenRefreshMargin is how long before expiry a cached token is replaced.
const tokenRefreshMargin = 60 * time.Second

func usable(t *oauth2.Token) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return t.Expiry.IsZero() || time.Until(t.Expiry) > tokenRefreshMargin
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if usable(ts.token) {
		return ts.token.AccessToken, nil
	}
	if !ts.Configured() {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	endpoint := ts.TokenURL
	if endpoint == "" {
		endpoint = DefaultTokenURL
	}
	cc := clientcredentials.Config{
		ClientID:     ts.ClientID,
		ClientSecret: ts.ClientSecret,
		TokenURL:     endpoint,
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	client := ts.HTTPClient
	if client == nil {
		client = defaultHTTPClient
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	tok, err := cc.Token(ctx)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return "", fmt.Errorf("twitch token request failed: %d: %w", re.Response.StatusCode, err)
		}
		return "", fmt.Errorf("twitch token request failed: %w", err)
	}
	ts.token = tok
	return tok.AccessToken, nil
}

// Configured reports whether client credentials are present.
func (ts *TokenSource) Configured() bool {
	return ts != nil && ts.ClientID != "" && ts.ClientSecret != ""
}
