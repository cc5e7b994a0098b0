package idp

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"golang.org/x/oauth2"

	"github.com/telekom/tokenctl/pkg/tokenctl/auth"
)

const anonymousAccountID = "anonymous"

type storedToken struct {
	account auth.Account
	scopes  []string
	token   *oauth2.Token
	idToken string
	updated time.Time
}

// tokenStore is the provider side cache backing silent acquisition. Entries
// are keyed by account and scope set and dropped after ttl, which bounds how
// long a refresh token is kept in memory.
type tokenStore struct {
	cache *ttlcache.Cache[string, storedToken]
	now   func() time.Time
}

func newTokenStore(ttl time.Duration, now func() time.Time) *tokenStore {
	return &tokenStore{
		cache: ttlcache.New[string, storedToken](
			ttlcache.WithTTL[string, storedToken](ttl),
			ttlcache.WithDisableTouchOnHit[string, storedToken](),
		),
		now: now,
	}
}

func storeKey(accountID string, scopes []string) string {
	sorted := slices.Clone(scopes)
	sort.Strings(sorted)
	return accountID + "|" + strings.Join(sorted, " ")
}

func (s *tokenStore) put(entry storedToken) {
	entry.updated = s.now()
	s.cache.Set(storeKey(entry.account.HomeAccountID, entry.scopes), entry, ttlcache.DefaultTTL)
}

func (s *tokenStore) get(accountID string, scopes []string) (storedToken, bool) {
	item := s.cache.Get(storeKey(accountID, scopes))
	if item == nil || item.IsExpired() {
		return storedToken{}, false
	}
	return item.Value(), true
}

func (s *tokenStore) remove(accountID string, scopes []string) {
	s.cache.Delete(storeKey(accountID, scopes))
}

// accounts returns each distinct account once, most recently updated first.
func (s *tokenStore) accounts() []auth.Account {
	latest := map[string]storedToken{}
	for _, item := range s.cache.Items() {
		if item.IsExpired() {
			continue
		}
		entry := item.Value()
		if prev, ok := latest[entry.account.HomeAccountID]; !ok || entry.updated.After(prev.updated) {
			latest[entry.account.HomeAccountID] = entry
		}
	}
	entries := make([]storedToken, 0, len(latest))
	for _, entry := range latest {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].updated.Equal(entries[j].updated) {
			return entries[i].account.HomeAccountID < entries[j].account.HomeAccountID
		}
		return entries[i].updated.After(entries[j].updated)
	})
	out := make([]auth.Account, 0, len(entries))
	for _, entry := range entries {
		out = append(out, entry.account)
	}
	return out
}
