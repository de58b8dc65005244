package oauthidp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	"tasksync/internal/service"
)

const (
	// CallbackTimeout bounds the wait for the browser redirect.
	CallbackTimeout = 5 * time.Minute

	// ExchangeTimeout bounds the code-for-token exchange.
	ExchangeTimeout = 30 * time.Second

	// MaxPortAttempts is how many consecutive callback ports are tried.
	MaxPortAttempts = 5
)

var _ service.GoogleIdentity = (*Provider)(nil)

// Browser opens url for the user. The default prints it to stderr.
type Browser func(url string) error

// WithBrowser replaces how the consent URL reaches the user.
func (p *Provider) WithBrowser(b Browser) *Provider {
	p.browser = b
	return p
}

// PrintURL returns a Browser that asks the user to open the URL by hand.
func PrintURL(w io.Writer) Browser {
	return func(url string) error {
		fmt.Fprintln(w, "Open this URL in your browser:")
		fmt.Fprintln(w, url)
		return nil
	}
}

// SignInWithGoogle implements service.GoogleIdentity with the installed-app
// flow: a PKCE authorization request answered on a loopback redirect.
func (p *Provider) SignInWithGoogle(ctx context.Context) (service.Profile, error) {
	if p.oauth.Endpoint.AuthURL == "" {
		return service.Profile{}, errors.New("browser sign-in is not available: no authorization endpoint configured (set auth.auth_url or add oauth_client.json)")
	}

	port, listener, err := findAvailablePort(p.cfg.Auth.CallbackPort)
	if err != nil {
		return service.Profile{}, fmt.Errorf("could not bind to local port for OAuth callback: %w", err)
	}
	defer listener.Close()

	oc := *p.oauth
	oc.RedirectURL = fmt.Sprintf("http://localhost:%d/callback", port)

	verifier := oauth2.GenerateVerifier()
	state := uuid.NewString()
	authURL := oc.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)
	report := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("state") != state {
			http.Error(w, "State mismatch", http.StatusBadRequest)
			report(errors.New("oauth callback state mismatch"))
			return
		}
		if e := q.Get("error"); e != "" {
			http.Error(w, "Authentication failed", http.StatusForbidden)
			report(fmt.Errorf("consent refused (%s): %w", e, service.ErrInvalidCredentials))
			return
		}
		code := q.Get("code")
		if code == "" {
			http.Error(w, "No code in callback", http.StatusBadRequest)
			report(errors.New("no code in callback"))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body><h1>Authentication successful</h1><p>You may close this window.</p></body></html>")
		select {
		case codeCh <- code:
		default:
		}
	})

	server := &http.Server{Handler: mux, ReadHeaderTimeout: APITimeout}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			report(err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	browser := p.browser
	if browser == nil {
		browser = PrintURL(os.Stderr)
	}
	if err := browser(authURL); err != nil {
		return service.Profile{}, fmt.Errorf("failed to open browser: %w", err)
	}

	var code string
	select {
	case code = <-codeCh:
	case err := <-errCh:
		return service.Profile{}, err
	case <-time.After(CallbackTimeout):
		return service.Profile{}, errors.New("oauth callback timed out")
	case <-ctx.Done():
		return service.Profile{}, ctx.Err()
	}

	exchangeCtx, cancel := context.WithTimeout(ctx, ExchangeTimeout)
	defer cancel()
	exchangeCtx = context.WithValue(exchangeCtx, oauth2.HTTPClient, p.client)

	token, err := oc.Exchange(exchangeCtx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return service.Profile{}, fmt.Errorf("failed to exchange code for token: %w", wrapError(err))
	}
	return p.establish(exchangeCtx, token)
}

// findAvailablePort tries MaxPortAttempts ports from start. A zero start
// lets the system pick one.
func findAvailablePort(start int) (int, net.Listener, error) {
	if start == 0 {
		listener, err := net.Listen("tcp", "localhost:0")
		if err != nil {
			return 0, nil, err
		}
		return listener.Addr().(*net.TCPAddr).Port, listener, nil
	}
	for i := 0; i < MaxPortAttempts; i++ {
		port := start + i
		listener, err := net.Listen("tcp", fmt.Sprintf("localhost:%d", port))
		if err == nil {
			return port, listener, nil
		}
	}
	return 0, nil, fmt.Errorf("no available port in %d-%d", start, start+MaxPortAttempts-1)
}
