package twitchapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func newTokenServer(t *testing.T, expiresIn int, calls *int32) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		if r.Form.Get("grant_type") != "client_credentials" {
			t.Errorf("grant_type = %q, want client_credentials", r.Form.Get("grant_type"))
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "token-" + string(rune('0'+n)),
			"expires_in":   expiresIn,
			"token_type":   "bearer",
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestTokenSource_GetCached(t *testing.T) {
	var calls int32
	server := newTokenServer(t, 3600, &calls)
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: server.URL}

	tok1, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	tok2, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok1 != "token-1" || tok2 != tok1 {
		t.Errorf("tokens = %q, %q; want token-1 twice", tok1, tok2)
	}
	if calls != 1 {
		t.Errorf("expected 1 API call, got %d", calls)
	}
}

func TestTokenSource_RefreshesInsideMargin(t *testing.T) {
	var calls int32
	// Tokens that expire within the refresh margin are never reused.
	server := newTokenServer(t, 30, &calls)
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: server.URL}

	if _, err := ts.Get(context.Background()); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	tok, err := ts.Get(context.Background())
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if tok != "token-2" || calls != 2 {
		t.Errorf("Get() = %q after %d calls, want token-2 after 2", tok, calls)
	}
}

func TestTokenSource_Errors(t *testing.T) {
	if _, err := (&TokenSource{}).Get(context.Background()); err == nil || !strings.Contains(err.Error(), "missing client id/secret") {
		t.Errorf("Get() without credentials error = %v", err)
	}

	unauthorized := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_client"}`))
	}))
	defer unauthorized.Close()
	ts := &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: unauthorized.URL}
	if _, err := ts.Get(context.Background()); err == nil || !strings.Contains(err.Error(), "401") {
		t.Errorf("Get() with 401 error = %v", err)
	}

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"access_token": "", "expires_in": 3600})
	}))
	defer empty.Close()
	ts = &TokenSource{ClientID: "c", ClientSecret: "s", TokenURL: empty.URL}
	if _, err := ts.Get(context.Background()); err == nil || !strings.Contains(err.Error(), "access_token") {
		t.Errorf("Get() with empty token error = %v", err)
	}
}

func TestTokenSource_Configured(t *testing.T) {
	var nilTS *TokenSource
	if nilTS.Configured() {
		t.Error("nil token source reported configured")
	}
	if (&TokenSource{ClientID: "c"}).Configured() {
		t.Error("token source without secret reported configured")
	}
	if !(&TokenSource{ClientID: "c", ClientSecret: "s"}).Configured() {
		t.Error("token source with credentials reported unconfigured")
	}
}
