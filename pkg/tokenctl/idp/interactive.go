package idp

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/telekom/tokenctl/pkg/tokenctl/auth"
)

func (p *Provider) AcquireInteractive(ctx context.Context, scopes []string) (*auth.Result, error) {
	result, err := p.interactiveLogin(ctx, scopes)
	recordRequest("interactive", err)
	return result, err
}

func (p *Provider) interactiveLogin(ctx context.Context, scopes []string) (*auth.Result, error) {
	provider, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("failed to start callback listener: %w", err)
	}
	defer func() {
		_ = listener.Close()
	}()

	redirectURL := fmt.Sprintf("http://%s/callback", listener.Addr().String())
	oauthCfg := p.oauthConfig(provider, redirectURL, scopes)

	verifier := oauth2.GenerateVerifier()
	state, err := randomToken(24)
	if err != nil {
		return nil, err
	}
	authOpts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	for k, v := range p.cfg.ExtraAuthParams {
		authOpts = append(authOpts, oauth2.SetAuthURLParam(k, v))
	}
	authURL := oauthCfg.AuthCodeURL(state, authOpts...)

	ctx, cancel := context.WithTimeout(ctx, p.cfg.InteractiveTimeout)
	defer cancel()
	httpCtx := p.httpContext(ctx)

	tokenCh := make(chan *oauth2.Token, 1)
	errCh := make(chan error, 1)
	fail := func(err error) {
		select {
		case errCh <- err:
		default:
		}
	}

	server := &http.Server{
		ReadHeaderTimeout: 10 * time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/callback" {
				http.NotFound(w, r)
				return
			}
			query := r.URL.Query()
			if query.Get("state") != state {
				fail(errors.New("invalid state in callback"))
				http.Error(w, "invalid state", http.StatusBadRequest)
				return
			}
			if errCode := query.Get("error"); errCode != "" {
				fail(fmt.Errorf("authorization failed: %s: %s", errCode, query.Get("error_description")))
				http.Error(w, "authorization failed", http.StatusBadRequest)
				return
			}
			code := query.Get("code")
			if code == "" {
				fail(errors.New("missing code in callback"))
				http.Error(w, "missing code", http.StatusBadRequest)
				return
			}
			token, err := oauthCfg.Exchange(httpCtx, code, oauth2.VerifierOption(verifier))
			if err != nil {
				fail(fmt.Errorf("token exchange failed: %w", err))
				http.Error(w, "token exchange failed", http.StatusInternalServerError)
				return
			}
			_, _ = fmt.Fprintln(w, "Authentication complete. You can close this window.")
			select {
			case tokenCh <- token:
			default:
			}
		}),
	}
	go func() {
		_ = server.Serve(listener)
	}()
	defer func() {
		_ = server.Close()
	}()

	_, _ = fmt.Fprintf(p.out, "Open the following URL in your browser:\n%s\n", authURL)
	if !p.cfg.NoBrowser {
		if err := p.opener(authURL); err != nil {
			p.log.Warnw("Could not open browser", "error", err)
		}
	}

	select {
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("interactive sign-in timed out after %s", p.cfg.InteractiveTimeout)
		}
		return nil, ctx.Err()
	case err := <-errCh:
		return nil, err
	case token := <-tokenCh:
		return p.complete(ctx, provider, token, scopes, nil)
	}
}

func randomToken(length int) (string, error) {
	bytes := make([]byte, length)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate random token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
