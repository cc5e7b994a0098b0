package idp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/oauth2"

	"github.com/telekom/tokenctl/pkg/tokenctl/auth"
)

func (p *Provider) AcquireByDeviceCode(ctx context.Context, scopes []string, onCodeReady func(auth.DeviceCode)) (*auth.Result, error) {
	result, err := p.deviceCodeLogin(ctx, scopes, onCodeReady)
	recordRequest("device_code", err)
	return result, err
}

func (p *Provider) deviceCodeLogin(ctx context.Context, scopes []string, onCodeReady func(auth.DeviceCode)) (*auth.Result, error) {
	provider, err := p.discover(ctx)
	if err != nil {
		return nil, err
	}
	oauthCfg := p.oauthConfig(provider, "", scopes)
	if oauthCfg.Endpoint.DeviceAuthURL == "" {
		return nil, errors.New("device authorization endpoint not advertised")
	}
	if oauthCfg.Endpoint.TokenURL == "" {
		return nil, errors.New("token endpoint not advertised")
	}

	pollCtx, cancel := context.WithTimeout(p.httpContext(ctx), p.cfg.DeviceCodeTimeout)
	defer cancel()

	da, err := oauthCfg.DeviceAuth(pollCtx)
	if err != nil {
		return nil, fmt.Errorf("device authorization failed: %w", err)
	}

	code := auth.DeviceCode{
		UserCode:                da.UserCode,
		VerificationURI:         da.VerificationURI,
		VerificationURIComplete: da.VerificationURIComplete,
		ExpiresOn:               da.Expiry,
		Interval:                time.Duration(da.Interval) * time.Second,
		Message:                 deviceCodeMessage(da),
	}
	if code.ExpiresOn.IsZero() {
		code.ExpiresOn = p.now().Add(p.cfg.DeviceCodeTimeout)
	}
	if onCodeReady != nil {
		onCodeReady(code)
	}
	if da.VerificationURIComplete != "" && !p.cfg.NoBrowser {
		if err := p.opener(da.VerificationURIComplete); err != nil {
			p.log.Debugw("Could not open browser", "error", err)
		}
	}

	token, err := oauthCfg.DeviceAccessToken(pollCtx, da)
	if err != nil {
		return nil, classifyDeviceError(err)
	}
	return p.complete(ctx, provider, token, scopes, nil)
}

func deviceCodeMessage(da *oauth2.DeviceAuthResponse) string {
	return fmt.Sprintf("To sign in, use a web browser to open the page %s and enter the code %s to authenticate.",
		da.VerificationURI, da.UserCode)
}

func classifyDeviceError(err error) error {
	var retrieveErr *oauth2.RetrieveError
	switch {
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", auth.ErrDeviceCodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", auth.ErrDeviceCodeExpired, err)
	case errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "expired_token":
		return fmt.Errorf("%w: %w", auth.ErrDeviceCodeExpired, err)
	case errors.As(err, &retrieveErr) && retrieveErr.ErrorCode == "access_denied":
		return fmt.Errorf("device code sign-in was denied: %w", err)
	default:
		return fmt.Errorf("device token polling failed: %w", err)
	}
}
