package idp

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/telekom/tokenctl/pkg/version"
)

func newHTTPClient(caFile string, insecure bool) (*http.Client, error) {
	tlsConfig, err := loadTLSConfig(caFile, insecure)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Transport: &userAgentTransport{
			agent: version.UserAgent(),
			next: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				TLSClientConfig: tlsConfig,
			},
		},
		Timeout: 30 * time.Second,
	}, nil
}

type userAgentTransport struct {
	agent string
	next  http.RoundTripper
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" {
		return t.next.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("User-Agent", t.agent)
	return t.next.RoundTrip(clone)
}

func loadTLSConfig(caFile string, insecure bool) (*tls.Config, error) {
	if caFile == "" && !insecure {
		return &tls.Config{MinVersion: tls.VersionTLS12}, nil
	}
	certPool, err := loadCertPool(caFile)
	if err != nil {
		return nil, err
	}
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecure, //nolint:gosec // opt-in for lab issuers
		RootCAs:            certPool,
	}, nil
}

func loadCertPool(caFile string) (*x509.CertPool, error) {
	if caFile == "" {
		return nil, nil
	}
	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}
	pool := x509.NewCertPool()
	if ok := pool.AppendCertsFromPEM(data); !ok {
		return nil, errors.New("failed to parse CA file")
	}
	return pool, nil
}
