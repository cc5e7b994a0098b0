package auth

import (
	"sync"
	"time"
)

// TokenCache holds exactly one access token and its expiry. The two fields
// are always read and written under the same lock.
type TokenCache struct {
	mu        sync.RWMutex
	token     string
	expiresAt time.Time
	// expiryOf is the token expiresAt was recorded with by Set.
	expiryOf string
}

func (c *TokenCache) Get() (string, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token, c.expiresAt
}

func (c *TokenCache) Set(token string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
	c.expiresAt = expiresAt
	c.expiryOf = token
}

// Expiry returns the recorded expiry when it belongs to the cached token.
// After SetTokenOnly stored a different token the expiry is still used by
// Valid but reported here as unknown.
func (c *TokenCache) Expiry() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" || c.token != c.expiryOf {
		return time.Time{}, false
	}
	return c.expiresAt, true
}

// SetTokenOnly replaces the token and keeps the previous expiry.
func (c *TokenCache) SetTokenOnly(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Valid returns the cached token if one is present and it expires strictly
// later than now plus buffer.
func (c *TokenCache) Valid(now time.Time, buffer time.Duration) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.token == "" || !c.expiresAt.After(now.Add(buffer)) {
		return "", false
	}
	return c.token, true
}
