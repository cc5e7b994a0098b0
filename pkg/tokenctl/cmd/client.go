package cmd

import (
	"fmt"
	"slices"

	"github.com/telekom/tokenctl/pkg/tokenctl/auth"
	"github.com/telekom/tokenctl/pkg/tokenctl/idp"
)

// session bundles what a token command needs for one profile.
type session struct {
	profile  string
	flow     auth.FlowKind
	client   *auth.Client
	provider *idp.Provider
}

type sessionOptions struct {
	flow   string
	scopes []string
}

func (rt *runtimeState) newSession(opts sessionOptions) (*session, error) {
	profile, err := rt.ResolveProfile()
	if err != nil {
		return nil, err
	}

	flow, err := profile.FlowKind()
	if err != nil {
		return nil, err
	}
	flowName := opts.flow
	if flowName == "" {
		flowName = rt.flowOverride
	}
	if flowName != "" {
		if flow, err = auth.ParseFlowKind(flowName); err != nil {
			return nil, err
		}
	}
	if rt.nonInteractive {
		if opts.flow != "" && flow != auth.FlowDeviceCode {
			return nil, fmt.Errorf("%w: --non-interactive requires the device-code flow", auth.ErrUnsupportedFlow)
		}
		flow = auth.FlowDeviceCode
	}

	settings := rt.cfg.Settings
	providerOpts := append([]idp.Option{
		idp.WithLogger(rt.Logger().Named("idp")),
		idp.WithOutput(rt.ErrWriter()),
	}, rt.providerOpts...)
	provider, err := idp.New(idp.Config{
		Authority:          profile.Authority,
		ClientID:           profile.ClientID,
		CAFile:             profile.CAFile,
		InsecureSkipTLS:    profile.InsecureSkipTLS,
		NoBrowser:          profile.NoBrowser || rt.noBrowser || rt.nonInteractive,
		DeviceCodeTimeout:  settings.DeviceCodeTimeout,
		InteractiveTimeout: settings.InteractiveTimeout,
		CacheTTL:           settings.ProviderCacheTTL,
		ExtraAuthParams:    profile.ExtraAuthParams,
	}, providerOpts...)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", profile.Name, err)
	}

	scopes := profile.Scopes
	if len(opts.scopes) > 0 {
		scopes = opts.scopes
	}
	client, err := auth.NewClient(auth.ClientConfig{
		ClientID:  profile.ClientID,
		Authority: profile.Authority,
		Scopes:    slices.Clone(scopes),
	}, provider,
		auth.WithLogger(rt.Logger().Named("auth").With("profile", profile.Name)),
		auth.WithMessageSink(auth.WriterSink{W: rt.ErrWriter()}),
	)
	if err != nil {
		return nil, fmt.Errorf("profile %s: %w", profile.Name, err)
	}
	return &session{profile: profile.Name, flow: flow, client: client, provider: provider}, nil
}
