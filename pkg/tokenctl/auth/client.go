package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/telekom/tokenctl/pkg/metrics"
)

const (
	// DefaultScope is requested when the caller configures no scopes.
	DefaultScope = "user.read"
	// ExpiryBuffer is how long before its expiry a cached token stops being
	// handed out when silent acquisition fails.
	ExpiryBuffer = 5 * time.Minute

	tracerName = "github.com/telekom/tokenctl/pkg/tokenctl/auth"
)

// FlowKind selects the flow used when silent acquisition fails and the
// cached token is no longer usable.
type FlowKind int

const (
	FlowDeviceCode FlowKind = iota
	FlowInteractive
)

func (f FlowKind) String() string {
	switch f {
	case FlowDeviceCode:
		return "device-code"
	case FlowInteractive:
		return "interactive"
	default:
		return fmt.Sprintf("flow(%d)", int(f))
	}
}

// ParseFlowKind accepts the names printed by FlowKind.String.
func ParseFlowKind(name string) (FlowKind, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "device-code", "devicecode", "device":
		return FlowDeviceCode, nil
	case "interactive", "browser":
		return FlowInteractive, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedFlow, name)
	}
}

// ClientConfig is fixed for the lifetime of a Client.
type ClientConfig struct {
	ClientID  string
	Authority string
	Scopes    []string
}

func (c ClientConfig) normalize() (ClientConfig, error) {
	out := ClientConfig{
		ClientID:  strings.TrimSpace(c.ClientID),
		Authority: strings.TrimSpace(c.Authority),
	}
	if out.ClientID == "" {
		return out, fmt.Errorf("%w: client id is required", ErrInvalidConfig)
	}
	parsed, err := url.Parse(out.Authority)
	if err != nil || parsed.Host == "" || (parsed.Scheme != "https" && parsed.Scheme != "http") {
		return out, fmt.Errorf("%w: authority must be an absolute http(s) URL: %q", ErrInvalidConfig, c.Authority)
	}
	out.Scopes = NormalizeScopes(c.Scopes)
	if len(out.Scopes) == 0 {
		out.Scopes = []string{DefaultScope}
	}
	return out, nil
}

// NormalizeScopes drops blank entries and duplicates, keeping the first
// occurrence order.
func NormalizeScopes(scopes []string) []string {
	seen := make(map[string]struct{}, len(scopes))
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Client hands out access tokens for one ClientConfig, preferring silent
// acquisition and prompting the user only when the cached token is about to
// expire.
type Client struct {
	cfg      ClientConfig
	provider IdentityProvider
	sink     MessageSink
	log      *zap.SugaredLogger
	now      func() time.Time

	cache TokenCache
	group singleflight.Group
}

type Option func(*Client)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

func WithMessageSink(sink MessageSink) Option {
	return func(c *Client) {
		if sink != nil {
			c.sink = sink
		}
	}
}

// WithClock replaces time.Now for the expiry check.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func NewClient(cfg ClientConfig, provider IdentityProvider, opts ...Option) (*Client, error) {
	normalized, err := cfg.normalize()
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, errors.New("identity provider is required")
	}
	c := &Client{
		cfg:      normalized,
		provider: provider,
		sink:     MessageSinkFunc(func(DeviceCode) {}),
		log:      zap.NewNop().Sugar(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Config returns the normalized configuration.
func (c *Client) Config() ClientConfig {
	cfg := c.cfg
	cfg.Scopes = slices.Clone(c.cfg.Scopes)
	return cfg
}

// CachedExpiry reports the expiry recorded with the cached token. ok is false
// while nothing is cached and after a silent acquisition replaced the token
// that expiry was recorded for.
func (c *Client) CachedExpiry() (expiresAt time.Time, ok bool) {
	return c.cache.Expiry()
}

func (c *Client) GetTokenViaDeviceCode(ctx context.Context) (string, error) {
	return c.Acquire(ctx, FlowDeviceCode)
}

func (c *Client) GetTokenInteractive(ctx context.Context) (string, error) {
	return c.Acquire(ctx, FlowInteractive)
}

// flight is the shared result of one acquisition. initiatorDone records
// whether the context it ran under had ended by the time it returned.
type flight struct {
	token         string
	initiatorDone bool
}

// Acquire returns an access token for the configured scopes. Concurrent calls
// for the same flow share one acquisition, which runs under the context of
// the caller that started it. Every caller stops waiting when its own ctx is
// done, and callers whose ctx is still live start over when the shared
// acquisition ended because its initiator's ctx did.
func (c *Client) Acquire(ctx context.Context, flow FlowKind) (string, error) {
	if flow != FlowDeviceCode && flow != FlowInteractive {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFlow, flow)
	}
	key := flow.String()
	for {
		ch := c.group.DoChan(key, func() (interface{}, error) {
			token, err := c.acquire(ctx, flow)
			return flight{token: token, initiatorDone: ctx.Err() != nil}, err
		})
		select {
		case <-ctx.Done():
			c.log.Debugw("Stopped waiting for token acquisition", "flow", key, "error", ctx.Err())
			return "", &AcquisitionError{Flow: flow, Err: ctx.Err()}
		case res := <-ch:
			if res.Shared {
				c.log.Debugw("Joined in-flight token acquisition", "flow", key)
			}
			f, _ := res.Val.(flight)
			// The finished call is already out of the group, so the next
			// DoChan starts or joins a new run.
			if res.Err != nil && f.initiatorDone && ctx.Err() == nil {
				c.log.Debugw("Shared token acquisition was canceled by its initiator, retrying", "flow", key)
				continue
			}
			if res.Err != nil {
				return "", res.Err
			}
			return f.token, nil
		}
	}
}

func (c *Client) acquire(ctx context.Context, flow FlowKind) (string, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "tokenctl.Acquire",
		trace.WithAttributes(attribute.String("tokenctl.flow", flow.String())))
	defer span.End()
	log := c.log.With("flow", flow.String(), "clientID", c.cfg.ClientID, "acquisitionID", uuid.NewString())

	token, err := c.acquireSilent(ctx)
	if err == nil {
		span.SetAttributes(attribute.String("tokenctl.source", metrics.SourceSilent))
		// The silent result carries an expiry too, but only the token is
		// recorded here; the cached expiry stays from the last fallback.
		c.cache.SetTokenOnly(token)
		metrics.TokenAcquisitions.WithLabelValues(flow.String(), metrics.SourceSilent).Inc()
		log.Debug("Token acquired silently")
		return token, nil
	}
	log.Debugw("Silent acquisition failed", "error", err)

	if cached, ok := c.cache.Valid(c.now(), ExpiryBuffer); ok {
		span.SetAttributes(attribute.String("tokenctl.source", metrics.SourceCache))
		metrics.TokenAcquisitions.WithLabelValues(flow.String(), metrics.SourceCache).Inc()
		log.Debug("Using cached token")
		return cached, nil
	}

	started := time.Now()
	result, err := c.fallback(ctx, flow, log)
	metrics.FallbackDuration.WithLabelValues(flow.String()).Observe(time.Since(started).Seconds())
	if err == nil && (result == nil || result.AccessToken == "") {
		err = errors.New("identity provider returned no access token")
	}
	if err != nil {
		metrics.FallbackFailures.WithLabelValues(flow.String(), failureReason(err)).Inc()
		metrics.TokenAcquisitions.WithLabelValues(flow.String(), metrics.SourceError).Inc()
		log.Warnw("Token acquisition failed", "error", err)
		span.SetAttributes(attribute.String("tokenctl.source", metrics.SourceError))
		span.RecordError(err)
		span.SetStatus(codes.Error, "token acquisition failed")
		return "", &AcquisitionError{Flow: flow, Err: err}
	}

	c.cache.Set(result.AccessToken, result.ExpiresOn)
	span.SetAttributes(attribute.String("tokenctl.source", metrics.SourceFallback))
	metrics.TokenAcquisitions.WithLabelValues(flow.String(), metrics.SourceFallback).Inc()
	log.Infow("Token acquired",
		"expiresAt", result.ExpiresOn.UTC().Format(time.RFC3339),
		"account", result.Account.Username)
	return result.AccessToken, nil
}

func (c *Client) acquireSilent(ctx context.Context) (string, error) {
	accounts, err := c.provider.Accounts(ctx)
	if err != nil {
		c.log.Debugw("Listing accounts failed", "error", err)
		accounts = nil
	}
	var account *Account
	if len(accounts) > 0 {
		account = &accounts[0]
	}
	result, err := c.provider.SilentAcquire(ctx, slices.Clone(c.cfg.Scopes), account)
	if err != nil {
		return "", err
	}
	if result == nil || result.AccessToken == "" {
		return "", ErrSilentAcquisitionFailed
	}
	return result.AccessToken, nil
}

func (c *Client) fallback(ctx context.Context, flow FlowKind, log *zap.SugaredLogger) (*Result, error) {
	scopes := slices.Clone(c.cfg.Scopes)
	switch flow {
	case FlowDeviceCode:
		log.Info("Starting device code flow")
		return c.provider.AcquireByDeviceCode(ctx, scopes, func(code DeviceCode) {
			log.Infow("Device code issued",
				"verificationURI", code.VerificationURI,
				"expiresOn", code.ExpiresOn.UTC().Format(time.RFC3339))
			c.sink.ShowDeviceCode(code)
		})
	case FlowInteractive:
		log.Info("Starting interactive flow")
		return c.provider.AcquireInteractive(ctx, scopes)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFlow, flow)
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrDeviceCodeExpired):
		return "expired"
	case errors.Is(err, ErrDeviceCodeCanceled):
		return "canceled"
	default:
		return "error"
	}
}
