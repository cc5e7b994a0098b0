package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"github.com/telekom/tokenctl/pkg/tokenctl/auth"
	"github.com/telekom/tokenctl/pkg/tokenctl/config"
	"github.com/telekom/tokenctl/pkg/tokenctl/idp"
	"github.com/telekom/tokenctl/pkg/tokenctl/output"
)

func TestTokenCommand_DeviceCode(t *testing.T) {
	iss := newTestIssuer(t)
	path := writeProfileConfig(t, iss, nil)
	out, errOut := &syncBuffer{}, &syncBuffer{}

	root := NewRootCommand(testConfig(path, out, errOut))
	root.SetArgs([]string{"token"})
	require.NoError(t, root.Execute())

	token := strings.TrimSpace(out.String())
	assert.Equal(t, 2, strings.Count(token, "."), "expected a JWT on stdout, got %q", token)
	assert.Contains(t, errOut.String(), "enter the code ABCD-EFGH")
	assert.NotContains(t, errOut.String(), token)
}

func TestTokenCommand_JSONOutput(t *testing.T) {
	iss := newTestIssuer(t)
	path := writeProfileConfig(t, iss, nil)
	out, errOut := &syncBuffer{}, &syncBuffer{}

	root := NewRootCommand(testConfig(path, out, errOut))
	root.SetArgs([]string{"token", "-o", "json", "--scope", "user.read", "--scope", "mail.read"})
	require.NoError(t, root.Execute())

	var view tokenView
	require.NoError(t, json.Unmarshal([]byte(out.String()), &view))
	assert.NotEmpty(t, view.AccessToken)
	assert.Equal(t, "test", view.Profile)
	assert.Equal(t, "device-code", view.Flow)
	assert.Equal(t, []string{"user.read", "mail.read"}, view.Scopes)
	assert.WithinDuration(t, time.Now().Add(time.Hour), view.ExpiresOn, time.Minute)
}

func TestTokenCommand_Interactive(t *testing.T) {
	iss := newTestIssuer(t)
	path := writeProfileConfig(t, iss, func(p *config.Profile) {
		p.Flow = "interactive"
		p.NoBrowser = false
	})
	out, errOut := &syncBuffer{}, &syncBuffer{}
	cfg := testConfig(path, out, errOut)
	cfg.ProviderOptions = []idp.Option{idp.WithOpener(browserFor(t))}

	root := NewRootCommand(cfg)
	root.SetArgs([]string{"token"})
	require.NoError(t, root.Execute())

	assert.NotEmpty(t, strings.TrimSpace(out.String()))
	assert.Contains(t, errOut.String(), "Open the following URL in your browser")
}

func TestTokenCommand_NonInteractiveRejectsInteractiveFlow(t *testing.T) {
	iss := newTestIssuer(t)
	path := writeProfileConfig(t, iss, nil)

	root := NewRootCommand(testConfig(path, &syncBuffer{}, &syncBuffer{}))
	root.SetArgs([]string{"token", "--non-interactive", "--flow", "interactive"})
	err := root.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrUnsupportedFlow)
}

func TestTokenCommand_UnknownFlow(t *testing.T) {
	iss := newTestIssuer(t)
	path := writeProfileConfig(t, iss, nil)

	root := NewRootCommand(testConfig(path, &syncBuffer{}, &syncBuffer{}))
	root.SetArgs([]string{"token", "--flow", "password"})
	err := root.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrUnsupportedFlow)
}

func TestTokenCommand_UnknownProfile(t *testing.T) {
	iss := newTestIssuer(t)
	path := writeProfileConfig(t, iss, nil)

	root := NewRootCommand(testConfig(path, &syncBuffer{}, &syncBuffer{}))
	root.SetArgs([]string{"token", "--profile", "missing"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "profile not found: missing")
}

func TestTokenCommand_ProviderFailure(t *testing.T) {
	path := configPathForTest(t)
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.AddProfile(config.Profile{
		Name:      "broken",
		Authority: "http://127.0.0.1:1",
		ClientID:  "tokenctl-test",
	}))
	require.NoError(t, config.Save(path, &cfg))

	root := NewRootCommand(testConfig(path, &syncBuffer{}, &syncBuffer{}))
	root.SetArgs([]string{"token", "--non-interactive"})
	err := root.Execute()
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrAcquisitionFailed)
	var acqErr *auth.AcquisitionError
	require.ErrorAs(t, err, &acqErr)
	assert.Equal(t, auth.FlowDeviceCode, acqErr.Flow)
}

func TestTokenCommand_WatchPrintsOnceAndStops(t *testing.T) {
	iss := newTestIssuer(t)
	path := writeProfileConfig(t, iss, nil)
	out, errOut := &syncBuffer{}, &syncBuffer{}
	metricsFile := filepath.Join(t.TempDir(), "tokenctl.prom")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	err := Run(ctx, testConfig(path, out, errOut), []string{"token", "--watch", "200ms", "--metrics-textfile", metricsFile})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	assert.Len(t, lines, 1, "token is unchanged between ticks")
	assert.EqualValues(t, 1, iss.issued.Load())

	content, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(content), `tokenctl_token_acquisitions_total{flow="device-code",source="fallback"}`)
	assert.Contains(t, string(content), `tokenctl_token_acquisitions_total{flow="device-code",source="silent"}`)
}

func TestRun_WritesMetricsOnFailure(t *testing.T) {
	metricsFile := filepath.Join(t.TempDir(), "tokenctl.prom")
	err := Run(context.Background(), testConfig(configPathForTest(t), &syncBuffer{}, &syncBuffer{}),
		[]string{"token", "--metrics-textfile", metricsFile})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokenctl config init")
	_, statErr := os.Stat(metricsFile)
	assert.NoError(t, statErr)
}

func TestRun_TraceExporterWritesAcquireSpan(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	iss := newTestIssuer(t)
	path := writeProfileConfig(t, iss, nil)
	out, errOut := &syncBuffer{}, &syncBuffer{}

	err := Run(context.Background(), testConfig(path, out, errOut), []string{"token", "--trace", "stderr"})
	require.NoError(t, err)
	assert.Contains(t, errOut.String(), `"Name": "tokenctl.Acquire"`)
	assert.NotContains(t, out.String(), "tokenctl.Acquire")
}

func TestRun_UnknownTraceExporter(t *testing.T) {
	iss := newTestIssuer(t)
	path := writeProfileConfig(t, iss, nil)

	err := Run(context.Background(), testConfig(path, &syncBuffer{}, &syncBuffer{}), []string{"token", "--trace", "jaeger"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown trace exporter")
}

type stubProvider struct {
	silentToken string
	deviceToken string
	expiresOn   time.Time
}

func (p *stubProvider) Accounts(context.Context) ([]auth.Account, error) {
	return nil, nil
}

func (p *stubProvider) SilentAcquire(context.Context, []string, *auth.Account) (*auth.Result, error) {
	if p.silentToken == "" {
		return nil, auth.ErrNoAccount
	}
	return &auth.Result{AccessToken: p.silentToken, ExpiresOn: p.expiresOn.Add(time.Hour)}, nil
}

func (p *stubProvider) AcquireByDeviceCode(context.Context, []string, func(auth.DeviceCode)) (*auth.Result, error) {
	return &auth.Result{AccessToken: p.deviceToken, ExpiresOn: p.expiresOn}, nil
}

func (p *stubProvider) AcquireInteractive(context.Context, []string) (*auth.Result, error) {
	return nil, auth.ErrUnsupportedFlow
}

func TestWriteToken_OmitsExpiryAfterSilentReplacement(t *testing.T) {
	provider := &stubProvider{deviceToken: "T1", expiresOn: time.Now().Add(time.Hour).UTC().Truncate(time.Second)}
	client, err := auth.NewClient(auth.ClientConfig{ClientID: "tokenctl", Authority: "https://idp.example.com"}, provider)
	require.NoError(t, err)
	s := &session{profile: "test", flow: auth.FlowDeviceCode, client: client}

	token, err := client.Acquire(context.Background(), s.flow)
	require.NoError(t, err)
	var first bytes.Buffer
	require.NoError(t, writeToken(&first, output.FormatJSON, s, token))
	var view tokenView
	require.NoError(t, json.Unmarshal(first.Bytes(), &view))
	assert.Equal(t, "T1", view.AccessToken)
	assert.True(t, provider.expiresOn.Equal(view.ExpiresOn))

	provider.silentToken = "T2"
	token, err = client.Acquire(context.Background(), s.flow)
	require.NoError(t, err)
	var second bytes.Buffer
	require.NoError(t, writeToken(&second, output.FormatJSON, s, token))
	assert.Contains(t, second.String(), `"accessToken": "T2"`)
	assert.NotContains(t, second.String(), "expiresOn")

	var third bytes.Buffer
	require.NoError(t, writeToken(&third, output.FormatYAML, s, token))
	assert.NotContains(t, third.String(), "expiresOn")
}
