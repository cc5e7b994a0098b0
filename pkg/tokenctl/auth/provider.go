package auth

import (
	"context"
	"time"
)

// Account is a signed-in identity known to the identity provider.
type Account struct {
	HomeAccountID string `json:"homeAccountId"`
	Username      string `json:"username,omitempty"`
	Issuer        string `json:"issuer,omitempty"`
}

// Result is the outcome of a successful token request.
type Result struct {
	AccessToken string
	ExpiresOn   time.Time
	IDToken     string
	Scopes      []string
	Account     Account
}

// DeviceCode carries the instructions the user needs to finish a device code
// sign-in on another device.
type DeviceCode struct {
	UserCode                string
	VerificationURI         string
	VerificationURIComplete string
	ExpiresOn               time.Time
	Interval                time.Duration
	Message                 string
}

// IdentityProvider is the OAuth2 client that talks to the authority. It owns
// the wire protocol, its own token cache, device code polling and the
// interactive consent flow.
type IdentityProvider interface {
	// Accounts lists the accounts the provider has seen so far.
	Accounts(ctx context.Context) ([]Account, error)

	// SilentAcquire returns a token without user interaction or fails.
	// account may be nil when no account is known yet.
	SilentAcquire(ctx context.Context, scopes []string, account *Account) (*Result, error)

	// AcquireByDeviceCode starts a device code exchange. onCodeReady is called
	// once with the user instructions, then the call blocks until the exchange
	// completes, expires or ctx is canceled.
	AcquireByDeviceCode(ctx context.Context, scopes []string, onCodeReady func(DeviceCode)) (*Result, error)

	// AcquireInteractive runs a browser based authorization code flow.
	AcquireInteractive(ctx context.Context, scopes []string) (*Result, error)
}
