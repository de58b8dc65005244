package oauthidp_test

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tasksync/internal/backend/oauthidp"
	"tasksync/internal/config"
	"tasksync/internal/service"
)

// fakeProvider serves the authorization, token, userinfo and sign-up
// endpoints.
type fakeProvider struct {
	mu       sync.Mutex
	accounts map[string]string

	// consent is the account the browser user approves; empty refuses.
	consent   string
	challenge string
}

func (f *fakeProvider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case r.URL.Path == "/auth":
		q := r.URL.Query()
		redirect, err := url.Parse(q.Get("redirect_uri"))
		if err != nil || q.Get("code_challenge_method") != "S256" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		f.challenge = q.Get("code_challenge")
		back := url.Values{"state": {q.Get("state")}}
		if f.consent == "" {
			back.Set("error", "access_denied")
		} else {
			back.Set("code", "code-"+f.consent)
		}
		redirect.RawQuery = back.Encode()
		http.Redirect(w, r, redirect.String(), http.StatusFound)
	case r.URL.Path == "/token" && r.FormValue("grant_type") == "authorization_code":
		sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
		email := strings.TrimPrefix(r.PostForm.Get("code"), "code-")
		if _, ok := f.accounts[email]; !ok || base64.RawURLEncoding.EncodeToString(sum[:]) != f.challenge {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "token-" + email,
			"refresh_token": "refresh-" + email,
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	case r.URL.Path == "/token":
		_ = r.ParseForm()
		email, pw := r.PostForm.Get("username"), r.PostForm.Get("password")
		if want, ok := f.accounts[email]; !ok || want != pw {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "token-" + email,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	case strings.HasSuffix(r.URL.Path, "/userinfo"):
		auth := r.Header.Get("Authorization")
		email := strings.TrimPrefix(auth, "Bearer token-")
		if _, ok := f.accounts[email]; !ok {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"email":   email,
			"name":    "Ada",
			"picture": "https://example.com/ada.png",
		})
	case r.URL.Path == "/signup":
		var body struct{ Email, Password string }
		_ = json.NewDecoder(r.Body).Decode(&body)
		if _, ok := f.accounts[body.Email]; ok {
			w.WriteHeader(http.StatusConflict)
			return
		}
		f.accounts[body.Email] = body.Password
		w.WriteHeader(http.StatusCreated)
	default:
		http.NotFound(w, r)
	}
}

func newProvider(t *testing.T) (*oauthidp.Provider, *config.Config) {
	t.Helper()
	p, cfg, _ := newProviderWithFake(t)
	return p, cfg
}

func newProviderWithFake(t *testing.T) (*oauthidp.Provider, *config.Config, *fakeProvider) {
	t.Helper()
	fake := &fakeProvider{accounts: map[string]string{"ada@example.com": "pw"}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	cfg := &config.Config{
		Dir: t.TempDir(),
		Auth: config.AuthConfig{
			ClientID:    "test",
			AuthURL:     srv.URL + "/auth",
			TokenURL:    srv.URL + "/token",
			SignUpURL:   srv.URL + "/signup",
			UserinfoURL: srv.URL + "/",
			Scopes:      []string{"openid", "email"},
		},
	}
	p, err := oauthidp.New(cfg)
	require.NoError(t, err)
	return p.WithHTTPClient(srv.Client()), cfg, fake
}

// followRedirects plays the browser: it loads the consent URL and follows
// the redirect back to the loopback callback.
func followRedirects(opened *string) oauthidp.Browser {
	return func(u string) error {
		*opened = u
		resp, err := (&http.Client{Timeout: 5 * time.Second}).Get(u)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		return resp.Body.Close()
	}
}

func TestNew_RequiresTokenEndpoint(t *testing.T) {
	_, err := oauthidp.New(&config.Config{Dir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no token endpoint")
}

func TestSignIn_SavesTokenAndReturnsProfile(t *testing.T) {
	p, cfg := newProvider(t)

	profile, err := p.SignIn(context.Background(), "ada@example.com", "pw")
	require.NoError(t, err)
	assert.Equal(t, service.Profile{
		DisplayName: "Ada",
		Email:       "ada@example.com",
		PhotoURL:    "https://example.com/ada.png",
	}, profile)

	info, err := os.Stat(cfg.TokenPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestSignIn_WrongPassword(t *testing.T) {
	p, cfg := newProvider(t)

	_, err := p.SignIn(context.Background(), "ada@example.com", "nope")
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
	assert.False(t, cfg.HasToken())
}

func TestSignInWithGoogle_LoopbackPKCE(t *testing.T) {
	p, cfg, fake := newProviderWithFake(t)
	fake.consent = "ada@example.com"
	var opened string
	p.WithBrowser(followRedirects(&opened))

	pushed := make(chan *service.Profile, 4)
	unsubscribe := p.OnAuthChange(func(profile *service.Profile, err error) {
		if err == nil && profile != nil {
			pushed <- profile
		}
	})
	defer unsubscribe()

	profile, err := p.SignInWithGoogle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", profile.Email)

	u, err := url.Parse(opened)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "S256", q.Get("code_challenge_method"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.True(t, strings.HasPrefix(q.Get("redirect_uri"), "http://localhost:"))
	assert.Contains(t, q.Get("scope"), "openid")
	assert.NotEmpty(t, q.Get("state"))

	info, err := os.Stat(cfg.TokenPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	data, err := os.ReadFile(cfg.TokenPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), "refresh-ada@example.com")

	select {
	case got := <-pushed:
		assert.Equal(t, "ada@example.com", got.Email)
	case <-time.After(5 * time.Second):
		t.Fatal("sign-in not pushed")
	}
}

func TestSignInWithGoogle_ConsentRefused(t *testing.T) {
	p, cfg, _ := newProviderWithFake(t)
	var opened string
	p.WithBrowser(followRedirects(&opened))

	_, err := p.SignInWithGoogle(context.Background())
	assert.ErrorIs(t, err, service.ErrInvalidCredentials)
	assert.Contains(t, err.Error(), "access_denied")
	assert.False(t, cfg.HasToken())
}

func TestSignInWithGoogle_StateMismatch(t *testing.T) {
	p, cfg, _ := newProviderWithFake(t)
	p.WithBrowser(func(consent string) error {
		u, err := url.Parse(consent)
		if err != nil {
			return err
		}
		resp, err := http.Get(u.Query().Get("redirect_uri") + "?code=code-ada@example.com&state=forged")
		if err != nil {
			return err
		}
		return resp.Body.Close()
	})

	_, err := p.SignInWithGoogle(context.Background())
	assert.EqualError(t, err, "oauth callback state mismatch")
	assert.False(t, cfg.HasToken())
}

func TestSignInWithGoogle_Cancelled(t *testing.T) {
	p, _, _ := newProviderWithFake(t)
	ctx, cancel := context.WithCancel(context.Background())
	p.WithBrowser(func(string) error {
		cancel()
		return nil
	})

	_, err := p.SignInWithGoogle(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSignInWithGoogle_RequiresAuthEndpoint(t *testing.T) {
	p, err := oauthidp.New(&config.Config{
		Dir:  t.TempDir(),
		Auth: config.AuthConfig{TokenURL: "http://127.0.0.1:1/token"},
	})
	require.NoError(t, err)

	_, err = p.SignInWithGoogle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no authorization endpoint")
}

func TestSignUp_CreatesAndSignsIn(t *testing.T) {
	p, cfg := newProvider(t)

	profile, err := p.SignUp(context.Background(), "bob@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", profile.Email)
	assert.True(t, cfg.HasToken())

	_, err = p.SignUp(context.Background(), "bob@example.com", "secret")
	assert.ErrorIs(t, err, service.ErrAccountExists)
}

func TestSignOut_WithoutToken(t *testing.T) {
	p, _ := newProvider(t)
	assert.ErrorIs(t, p.SignOut(context.Background()), service.ErrNoCurrentSession)
}

func TestOnAuthChange_ResolvesStoredToken(t *testing.T) {
	p, _ := newProvider(t)
	_, err := p.SignIn(context.Background(), "ada@example.com", "pw")
	require.NoError(t, err)

	got := make(chan *service.Profile, 4)
	unsubscribe := p.OnAuthChange(func(profile *service.Profile, err error) {
		assert.NoError(t, err)
		got <- profile
	})
	defer unsubscribe()

	select {
	case profile := <-got:
		require.NotNil(t, profile)
		assert.Equal(t, "ada@example.com", profile.Email)
	case <-time.After(5 * time.Second):
		t.Fatal("no initial auth state delivered")
	}

	require.NoError(t, p.SignOut(context.Background()))
	select {
	case profile := <-got:
		assert.Nil(t, profile)
	case <-time.After(5 * time.Second):
		t.Fatal("sign-out not pushed")
	}
}

func TestOnAuthChange_NoToken(t *testing.T) {
	p, _ := newProvider(t)

	got := make(chan *service.Profile, 1)
	unsubscribe := p.OnAuthChange(func(profile *service.Profile, err error) {
		assert.NoError(t, err)
		got <- profile
	})
	defer unsubscribe()

	select {
	case profile := <-got:
		assert.Nil(t, profile)
	case <-time.After(5 * time.Second):
		t.Fatal("no initial auth state delivered")
	}
}
