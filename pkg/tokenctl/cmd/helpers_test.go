package cmd

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/telekom/tokenctl/pkg/tokenctl/config"
)

func configPathForTest(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "config.yaml")
}

// testIssuer serves just enough of an OIDC issuer for the device code and
// authorization code grants. Access tokens are HS256 JWTs so whoami can
// decode them.
type testIssuer struct {
	server *httptest.Server
	issued atomic.Int32
}

func newTestIssuer(t *testing.T) *testIssuer {
	t.Helper()
	iss := &testIssuer{}
	iss.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/.well-known/openid-configuration":
			writeJSON(w, http.StatusOK, map[string]string{
				"issuer":                        iss.server.URL,
				"authorization_endpoint":        iss.server.URL + "/authorize",
				"token_endpoint":                iss.server.URL + "/token",
				"device_authorization_endpoint": iss.server.URL + "/device",
				"jwks_uri":                      iss.server.URL + "/keys",
			})
		case "/device":
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"device_code":      "device-123",
				"user_code":        "ABCD-EFGH",
				"verification_uri": "https://login.example.com/device",
				"expires_in":       60,
				"interval":         1,
			})
		case "/token":
			if err := r.ParseForm(); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
				return
			}
			switch r.PostForm.Get("grant_type") {
			case "urn:ietf:params:oauth:grant-type:device_code", "authorization_code":
			default:
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
				return
			}
			n := iss.issued.Add(1)
			writeJSON(w, http.StatusOK, map[string]interface{}{
				"access_token": iss.accessToken(t, n),
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(iss.server.Close)
	return iss
}

func (iss *testIssuer) accessToken(t *testing.T, n int32) string {
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":                iss.server.URL,
		"sub":                "user-1",
		"aud":                "api://tokenctl",
		"preferred_username": "alice@example.com",
		"exp":                time.Now().Add(time.Hour).Unix(),
		"jti":                n,
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeProfileConfig saves a config with one profile for the issuer.
func writeProfileConfig(t *testing.T, iss *testIssuer, mutate func(*config.Profile)) string {
	t.Helper()
	path := configPathForTest(t)
	cfg := config.DefaultConfig()
	profile := config.Profile{
		Name:      "test",
		Authority: iss.server.URL,
		ClientID:  "tokenctl-test",
		Scopes:    []string{"api://tokenctl/.default"},
		NoBrowser: true,
	}
	if mutate != nil {
		mutate(&profile)
	}
	require.NoError(t, cfg.AddProfile(profile))
	require.NoError(t, config.Save(path, &cfg))
	return path
}

// syncBuffer is shared with the command while it runs.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(path string, out, errOut *syncBuffer) Config {
	return Config{
		ConfigPath:   path,
		OutputWriter: out,
		ErrWriter:    errOut,
		Logger:       zap.NewNop().Sugar(),
	}
}

// browserFor follows the authorization redirect like a browser that is
// already signed in.
func browserFor(t *testing.T) func(string) error {
	return func(authURL string) error {
		parsed, err := url.Parse(authURL)
		require.NoError(t, err)
		q := parsed.Query()
		callback := url.Values{"code": {"auth-code"}, "state": {q.Get("state")}}
		resp, err := http.Get(q.Get("redirect_uri") + "?" + callback.Encode())
		if err != nil {
			return err
		}
		return resp.Body.Close()
	}
}
