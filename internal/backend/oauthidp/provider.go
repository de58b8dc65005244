// Package oauthidp implements service.Identity over an OAuth2 provider.
//
// Email sign-in uses the resource-owner password grant, which generic OAuth
// servers accept. Google only supports the browser flow in
// SignInWithGoogle. The profile comes from the OpenID userinfo API. The
// token is stored in the config directory with mode 0600.
package oauthidp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	oauth2api "google.golang.org/api/oauth2/v2"
	"google.golang.org/api/option"

	"tasksync/internal/config"
	"tasksync/internal/service"
)

const (
	// APITimeout is the timeout for provider calls.
	APITimeout = 10 * time.Second
)

// Provider implements service.Identity.
type Provider struct {
	cfg     *config.Config
	oauth   *oauth2.Config
	client  *http.Client // base client for token and sign-up requests
	browser Browser

	mu        sync.Mutex
	listeners map[int]func(*service.Profile, error)
	nextID    int
}

// New creates a provider from cfg. If oauth_client.json exists it provides
// the client credentials and endpoints; auth.* settings override them.
func New(cfg *config.Config) (*Provider, error) {
	oc, err := oauthConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Provider{
		cfg:       cfg,
		oauth:     oc,
		client:    &http.Client{Timeout: APITimeout},
		listeners: make(map[int]func(*service.Profile, error)),
	}, nil
}

// WithHTTPClient replaces the base HTTP client (for testing).
func (p *Provider) WithHTTPClient(c *http.Client) *Provider {
	p.client = c
	return p
}

func oauthConfig(cfg *config.Config) (*oauth2.Config, error) {
	scopes := cfg.OAuthScopes()
	oc := &oauth2.Config{Scopes: scopes}
	if cfg.HasOAuthClient() {
		clientJSON, err := os.ReadFile(cfg.OAuthClientPath())
		if err != nil {
			return nil, fmt.Errorf("failed to read oauth_client.json: %w", err)
		}
		oc, err = google.ConfigFromJSON(clientJSON, scopes...)
		if err != nil {
			return nil, fmt.Errorf("invalid oauth_client.json: %w", err)
		}
	}
	if cfg.Auth.ClientID != "" {
		oc.ClientID = cfg.Auth.ClientID
	}
	if cfg.Auth.ClientSecret != "" {
		oc.ClientSecret = cfg.Auth.ClientSecret
	}
	if cfg.Auth.AuthURL != "" {
		oc.Endpoint.AuthURL = cfg.Auth.AuthURL
	}
	if cfg.Auth.TokenURL != "" {
		oc.Endpoint.TokenURL = cfg.Auth.TokenURL
	}
	if oc.Endpoint.TokenURL == "" {
		return nil, errors.New("auth error: no token endpoint configured (set auth.token_url or add oauth_client.json)")
	}
	return oc, nil
}

// TokenSource returns an auto-refreshing source for the stored token.
func (p *Provider) TokenSource(ctx context.Context) (oauth2.TokenSource, error) {
	token, err := loadToken(p.cfg.TokenPath())
	if err != nil {
		return nil, err
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	return p.oauth.TokenSource(ctx, token), nil
}

// OnAuthChange implements service.Identity. The current state is resolved
// from the stored token in the background and delivered once.
func (p *Provider) OnAuthChange(fn func(*service.Profile, error)) func() {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), APITimeout)
		defer cancel()

		profile, err := p.currentProfile(ctx)
		p.mu.Lock()
		_, live := p.listeners[id]
		p.mu.Unlock()
		if !live {
			return
		}
		fn(profile, err)
	}()

	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

// SignIn implements service.Identity.
func (p *Provider) SignIn(ctx context.Context, email, password string) (service.Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)

	token, err := p.oauth.PasswordCredentialsToken(ctx, email, password)
	if err != nil {
		return service.Profile{}, wrapError(err)
	}
	return p.establish(ctx, token)
}

// establish resolves the token's profile, persists the token and pushes the
// new state to listeners.
func (p *Provider) establish(ctx context.Context, token *oauth2.Token) (service.Profile, error) {
	profile, err := p.fetchProfile(ctx, token)
	if err != nil {
		return service.Profile{}, err
	}

	if err := p.cfg.EnsureDir(); err != nil {
		return service.Profile{}, fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := saveToken(p.cfg.TokenPath(), token); err != nil {
		return service.Profile{}, fmt.Errorf("failed to save token: %w", err)
	}

	p.broadcast(&profile)
	return profile, nil
}

// SignUp implements service.Identity. The account is created at
// auth.signup_url, then signed in.
func (p *Provider) SignUp(ctx context.Context, email, password string) (service.Profile, error) {
	if p.cfg.Auth.SignUpURL == "" {
		return service.Profile{}, errors.New("sign-up is not supported: auth.signup_url is not set")
	}

	body, err := json.Marshal(map[string]string{"email": email, "password": password})
	if err != nil {
		return service.Profile{}, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, APITimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.cfg.Auth.SignUpURL, bytes.NewReader(body))
	if err != nil {
		return service.Profile{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return service.Profile{}, wrapError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return service.Profile{}, service.ErrAccountExists
	case resp.StatusCode >= 300:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return service.Profile{}, fmt.Errorf("sign-up rejected: %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}

	return p.SignIn(ctx, email, password)
}

// SignOut implements service.Identity. Without a stored token it returns
// service.ErrNoCurrentSession.
func (p *Provider) SignOut(ctx context.Context) error {
	if !p.cfg.HasToken() {
		return service.ErrNoCurrentSession
	}
	if err := p.cfg.RemoveToken(); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return service.ErrNoCurrentSession
		}
		return fmt.Errorf("failed to remove token: %w", err)
	}
	p.broadcast(nil)
	return nil
}

// currentProfile resolves the stored token to a profile. A missing or
// rejected token means nobody is signed in.
func (p *Provider) currentProfile(ctx context.Context) (*service.Profile, error) {
	if !p.cfg.HasToken() {
		return nil, nil
	}
	token, err := loadToken(p.cfg.TokenPath())
	if err != nil {
		return nil, nil
	}
	profile, err := p.fetchProfile(ctx, token)
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			return nil, nil
		}
		return nil, err
	}
	return &profile, nil
}

func (p *Provider) fetchProfile(ctx context.Context, token *oauth2.Token) (service.Profile, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	httpClient := oauth2.NewClient(ctx, p.oauth.TokenSource(ctx, token))

	opts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if p.cfg.Auth.UserinfoURL != "" {
		opts = append(opts, option.WithEndpoint(p.cfg.Auth.UserinfoURL))
	}
	svc, err := oauth2api.NewService(ctx, opts...)
	if err != nil {
		return service.Profile{}, fmt.Errorf("failed to create userinfo service: %w", err)
	}

	info, err := svc.Userinfo.Get().Context(ctx).Do()
	if err != nil {
		return service.Profile{}, wrapError(err)
	}
	return service.Profile{
		DisplayName: info.Name,
		Email:       info.Email,
		PhotoURL:    info.Picture,
	}, nil
}

func (p *Provider) broadcast(profile *service.Profile) {
	p.mu.Lock()
	fns := make([]func(*service.Profile, error), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		if profile == nil {
			fn(nil, nil)
			continue
		}
		c := *profile
		fn(&c, nil)
	}
}

func loadToken(path string) (*oauth2.Token, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token.json: %w", err)
	}
	var token oauth2.Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, fmt.Errorf("invalid token.json: %w", err)
	}
	return &token, nil
}

// saveToken saves an OAuth token to a file with mode 0600.
func saveToken(path string, token *oauth2.Token) error {
	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// wrapError maps provider errors to the service error kinds.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		if re.ErrorCode == "invalid_grant" || re.Response != nil && re.Response.StatusCode == http.StatusUnauthorized {
			return service.ErrInvalidCredentials
		}
		return fmt.Errorf("token request failed: %w", err)
	}

	errStr := err.Error()

	// Check for timeout
	if strings.Contains(errStr, "context deadline exceeded") {
		return fmt.Errorf("request timed out")
	}

	// Check for auth errors
	if strings.Contains(errStr, "401") || strings.Contains(errStr, "403") {
		return service.ErrInvalidCredentials
	}

	return err
}
