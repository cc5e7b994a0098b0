package idp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/telekom/tokenctl/pkg/metrics"
	"github.com/telekom/tokenctl/pkg/tokenctl/auth"
)

const (
	DefaultDeviceCodeTimeout  = 15 * time.Minute
	DefaultInteractiveTimeout = 5 * time.Minute
	DefaultCacheTTL           = 12 * time.Hour

	// refreshSkew makes silent lookups refresh a cached token this long
	// before it expires.
	refreshSkew = 5 * time.Minute
)

// reservedScopes are requested on every grant so the issuer returns an ID
// token and a refresh token.
var reservedScopes = []string{oidc.ScopeOpenID, "profile", oidc.ScopeOfflineAccess}

type Config struct {
	Authority          string
	ClientID           string
	CAFile             string
	InsecureSkipTLS    bool
	NoBrowser          bool
	DeviceCodeTimeout  time.Duration
	InteractiveTimeout time.Duration
	CacheTTL           time.Duration
	ExtraAuthParams    map[string]string
}

// Provider is an OIDC backed auth.IdentityProvider for public clients.
type Provider struct {
	cfg        Config
	httpClient *http.Client
	log        *zap.SugaredLogger
	opener     func(url string) error
	out        io.Writer
	now        func() time.Time
	store      *tokenStore

	mu         sync.Mutex
	discovered *oidc.Provider
}

var _ auth.IdentityProvider = (*Provider)(nil)

type Option func(*Provider)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(p *Provider) {
		if log != nil {
			p.log = log
		}
	}
}

// WithOpener replaces the browser launcher used by the interactive flow.
func WithOpener(opener func(url string) error) Option {
	return func(p *Provider) {
		if opener != nil {
			p.opener = opener
		}
	}
}

// WithOutput sets where the interactive flow prints the authorization URL.
func WithOutput(w io.Writer) Option {
	return func(p *Provider) {
		if w != nil {
			p.out = w
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(p *Provider) {
		if client != nil {
			p.httpClient = client
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// New validates cfg and prepares the HTTP client. Discovery happens on the
// first grant so that silent lookups never touch the network.
func New(cfg Config, opts ...Option) (*Provider, error) {
	if cfg.Authority == "" || cfg.ClientID == "" {
		return nil, errors.New("authority and client-id are required")
	}
	if cfg.DeviceCodeTimeout <= 0 {
		cfg.DeviceCodeTimeout = DefaultDeviceCodeTimeout
	}
	if cfg.InteractiveTimeout <= 0 {
		cfg.InteractiveTimeout = DefaultInteractiveTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	p := &Provider{
		cfg:    cfg,
		log:    zap.NewNop().Sugar(),
		opener: openBrowser,
		out:    os.Stderr,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.httpClient == nil {
		client, err := newHTTPClient(cfg.CAFile, cfg.InsecureSkipTLS)
		if err != nil {
			return nil, err
		}
		p.httpClient = client
	}
	p.store = newTokenStore(cfg.CacheTTL, p.now)
	return p, nil
}

func (p *Provider) Accounts(context.Context) ([]auth.Account, error) {
	return p.store.accounts(), nil
}

func (p *Provider) SilentAcquire(ctx context.Context, scopes []string, account *auth.Account) (*auth.Result, error) {
	if account == nil {
		recordRequest("silent", auth.ErrNoAccount)
		return nil, auth.ErrNoAccount
	}
	entry, ok := p.store.get(account.HomeAccountID, scopes)
	if !ok {
		err := fmt.Errorf("%w: no cached token for account %s", auth.ErrSilentAcquisitionFailed, account.HomeAccountID)
		recordRequest("silent", err)
		return nil, err
	}
	if entry.token.AccessToken != "" && entry.token.Expiry.After(p.now().Add(refreshSkew)) {
		recordRequest("silent", nil)
		return entryResult(entry), nil
	}
	if entry.token.RefreshToken == "" {
		err := fmt.Errorf("%w: cached token expired and no refresh token available", auth.ErrSilentAcquisitionFailed)
		recordRequest("silent", err)
		return nil, err
	}
	result, err := p.refresh(ctx, entry)
	recordRequest("refresh", err)
	if err != nil {
		p.store.remove(account.HomeAccountID, scopes)
		return nil, fmt.Errorf("%w: %w", auth.ErrSilentAcquisitionFailed, err)
	}
	return result, nil
}

func (p *Provider) refresh(ctx context.Context, entry storedToken) (*auth.Result, error) {
	provider, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}
	oauthCfg := p.oauthConfig(provider, "", entry.scopes)
	src := oauthCfg.TokenSource(p.httpContext(ctx), &oauth2.Token{RefreshToken: entry.token.RefreshToken})
	refreshed, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}
	p.log.Debugw("Refreshed cached token", "account", entry.account.HomeAccountID)
	return p.complete(ctx, provider, refreshed, entry.scopes, &entry.account)
}

func (p *Provider) discover(ctx context.Context) (*oidc.Provider, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.discovered != nil {
		return p.discovered, nil
	}
	provider, err := oidc.NewProvider(oidc.ClientContext(ctx, p.httpClient), strings.TrimRight(p.cfg.Authority, "/"))
	recordRequest("discovery", err)
	if err != nil {
		return nil, fmt.Errorf("failed to discover OIDC provider: %w", err)
	}
	p.discovered = provider
	return provider, nil
}

func (p *Provider) oauthConfig(provider *oidc.Provider, redirectURL string, scopes []string) oauth2.Config {
	endpoint := provider.Endpoint()
	endpoint.AuthStyle = oauth2.AuthStyleInParams
	return oauth2.Config{
		ClientID:    p.cfg.ClientID,
		Endpoint:    endpoint,
		RedirectURL: redirectURL,
		Scopes:      requestScopes(scopes),
	}
}

func (p *Provider) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// complete verifies the ID token, records the token in the store and builds
// the result. known is used as the account when the response carries no ID
// token, which is common for refresh grants.
func (p *Provider) complete(ctx context.Context, provider *oidc.Provider, token *oauth2.Token, scopes []string, known *auth.Account) (*auth.Result, error) {
	account := auth.Account{HomeAccountID: anonymousAccountID}
	if known != nil {
		account = *known
	}
	idToken, _ := token.Extra("id_token").(string)
	if idToken != "" {
		verified, err := p.verifyIDToken(ctx, provider, idToken)
		if err != nil {
			return nil, err
		}
		account = verified
	}
	if token.Expiry.IsZero() {
		p.log.Warn("Token response carried no expiry")
	}
	entry := storedToken{
		account: account,
		scopes:  slices.Clone(scopes),
		token:   token,
		idToken: idToken,
	}
	p.store.put(entry)
	return entryResult(entry), nil
}

func (p *Provider) verifyIDToken(ctx context.Context, provider *oidc.Provider, raw string) (auth.Account, error) {
	verifier := provider.Verifier(&oidc.Config{ClientID: p.cfg.ClientID, Now: p.now})
	verified, err := verifier.Verify(oidc.ClientContext(ctx, p.httpClient), raw)
	if err != nil {
		return auth.Account{}, fmt.Errorf("failed to verify id token: %w", err)
	}
	var claims struct {
		PreferredUsername string `json:"preferred_username"`
		Email             string `json:"email"`
	}
	if err := verified.Claims(&claims); err != nil {
		return auth.Account{}, fmt.Errorf("failed to parse id token claims: %w", err)
	}
	username := claims.PreferredUsername
	if username == "" {
		username = claims.Email
	}
	return auth.Account{
		HomeAccountID: verified.Subject,
		Username:      username,
		Issuer:        verified.Issuer,
	}, nil
}

func entryResult(entry storedToken) *auth.Result {
	return &auth.Result{
		AccessToken: entry.token.AccessToken,
		ExpiresOn:   entry.token.Expiry,
		IDToken:     entry.idToken,
		Scopes:      slices.Clone(entry.scopes),
		Account:     entry.account,
	}
}

func requestScopes(scopes []string) []string {
	out := slices.Clone(scopes)
	for _, reserved := range reservedScopes {
		if !slices.Contains(out, reserved) {
			out = append(out, reserved)
		}
	}
	return out
}

func recordRequest(operation string, err error) {
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	metrics.ProviderRequests.WithLabelValues(operation, outcome).Inc()
}
