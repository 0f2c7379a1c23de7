package ebay

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"fretscout/cache"
	"fretscout/config"
)

var testSecrets = config.MapSecrets{
	"EBAY_CLIENT_ID":     "client-id",
	"EBAY_CLIENT_SECRET": "client-secret",
}

// tokenServer answers OAuth requests with sequentially numbered tokens.
func tokenServer(t *testing.T, expiresIn int, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(calls, 1)

		if r.Method != http.MethodPost {
			t.Errorf("method: got %s, want POST", r.Method)
		}
		wantAuth := "Basic " + base64.StdEncoding.EncodeToString([]byte("client-id:client-secret"))
		if got := r.Header.Get("Authorization"); got != wantAuth {
			t.Errorf("authorization: got %q, want %q", got, wantAuth)
		}
		if got := r.Header.Get("Content-Type"); got != "application/x-www-form-urlencoded" {
			t.Errorf("content type: got %q", got)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("grant_type: got %q", got)
		}
		if got := r.PostForm.Get("scope"); got != DefaultScope {
			t.Errorf("scope: got %q, want %q", got, DefaultScope)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"token-%d","expires_in":%d,"token_type":"Application Access Token"}`, n, expiresIn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTokenProviderCachesToken(t *testing.T) {
	var calls int32
	srv := tokenServer(t, 7200, &calls)
	p := NewTokenProvider(Production, testSecrets, cache.NewMemoryCache(), WithTokenEndpoint(srv.URL))

	for i := 0; i < 3; i++ {
		tok, err := p.Token(context.Background())
		if err != nil {
			t.Fatalf("Token: %v", err)
		}
		if tok != "token-1" {
			t.Errorf("call %d: got %q, want token-1", i, tok)
		}
	}
	if calls != 1 {
		t.Errorf("token requests: got %d, want 1", calls)
	}
}

func TestTokenProviderRefreshesNearExpiry(t *testing.T) {
	var calls int32
	srv := tokenServer(t, 7200, &calls)
	p := NewTokenProvider(Production, testSecrets, cache.NewMemoryCache(), WithTokenEndpoint(srv.URL))

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return now }

	if tok, _ := p.Token(context.Background()); tok != "token-1" {
		t.Fatalf("first token: got %q", tok)
	}

	// 119s left is inside the refresh buffer
	now = now.Add(7200*time.Second - 119*time.Second)
	tok, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token: %v", err)
	}
	if tok != "token-2" {
		t.Errorf("got %q, want a refreshed token-2", tok)
	}
}

func TestTokenProviderSharedCacheAcrossProviders(t *testing.T) {
	var calls int32
	srv := tokenServer(t, 7200, &calls)
	shared := cache.NewMemoryCache()

	a := NewTokenProvider(Sandbox, testSecrets, shared, WithTokenEndpoint(srv.URL))
	b := NewTokenProvider(Sandbox, testSecrets, shared, WithTokenEndpoint(srv.URL))
	_, _ = a.Token(context.Background())
	tok, _ := b.Token(context.Background())

	if tok != "token-1" || calls != 1 {
		t.Errorf("got %q after %d requests, want cached token-1 after 1", tok, calls)
	}

	prod := NewTokenProvider(Production, testSecrets, shared, WithTokenEndpoint(srv.URL))
	if tok, _ := prod.Token(context.Background()); tok != "token-2" {
		t.Errorf("production must not reuse the sandbox token, got %q", tok)
	}
}

func TestTokenProviderMissingCredentials(t *testing.T) {
	var calls int32
	srv := tokenServer(t, 7200, &calls)
	p := NewTokenProvider(Production, config.MapSecrets{"EBAY_CLIENT_ID": "only-id"}, nil, WithTokenEndpoint(srv.URL))

	_, err := p.Token(context.Background())
	if !errors.Is(err, ErrMissingCredentials) {
		t.Errorf("got %v, want ErrMissingCredentials", err)
	}
	if calls != 0 {
		t.Errorf("no request should be made without credentials, got %d", calls)
	}
}

func TestTokenProviderErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"http error", http.StatusUnauthorized, `{"error":"invalid_client"}`},
		{"missing expiry", http.StatusOK, `{"access_token":"abc"}`},
		{"missing token", http.StatusOK, `{"expires_in":7200}`},
		{"bad json", http.StatusOK, `not json`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			}))
			defer srv.Close()

			p := NewTokenProvider(Production, testSecrets, nil, WithTokenEndpoint(srv.URL))
			if _, err := p.Token(context.Background()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestNormalizeScopes(t *testing.T) {
	if got := normalizeScopes([]string{" ", ""}); len(got) != 1 || got[0] != DefaultScope {
		t.Errorf("blank scopes: got %v, want default", got)
	}
	got := normalizeScopes([]string{" a ", "b"})
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("got %v, want [a b]", got)
	}
}

func TestParseEnv(t *testing.T) {
	tests := []struct {
		in      string
		want    Env
		wantErr bool
	}{
		{"", Production, false},
		{" Production ", Production, false},
		{"SANDBOX", Sandbox, false},
		{"staging", "", true},
	}
	for _, tt := range tests {
		got, err := ParseEnv(tt.in)
		if got != tt.want || (err != nil) != tt.wantErr {
			t.Errorf("ParseEnv(%q) = %q, %v; want %q, err=%v", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}
