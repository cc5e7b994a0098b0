package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/telekom/tokenctl/pkg/tokenctl/output"
)

type tokenView struct {
	AccessToken string    `json:"accessToken" yaml:"accessToken"`
	ExpiresOn   time.Time `json:"expiresOn,omitzero" yaml:"expiresOn,omitempty"`
	Profile     string    `json:"profile" yaml:"profile"`
	Flow        string    `json:"flow" yaml:"flow"`
	Scopes      []string  `json:"scopes" yaml:"scopes"`
}

func NewTokenCommand() *cobra.Command {
	var (
		flow   string
		scopes []string
		watch  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print an access token for the current profile",
		Long: `Print an access token for the current profile.

A cached token is reused until it is five minutes from expiry. After that the
configured flow (device code or interactive browser sign-in) runs again.

With -o json or -o yaml, expiresOn is the expiry reported by the last
sign-in. It is left out when the printed token came from a silent refresh,
whose expiry is not recorded.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			if watch < 0 {
				return errors.New("--watch must not be negative")
			}
			s, err := rt.newSession(sessionOptions{flow: flow, scopes: scopes})
			if err != nil {
				return err
			}
			if watch == 0 {
				token, err := s.client.Acquire(cmd.Context(), s.flow)
				if err != nil {
					return err
				}
				return writeToken(rt.Writer(), format, s, token)
			}
			return watchToken(cmd.Context(), rt.Writer(), format, s, watch)
		},
	}

	cmd.Flags().StringVar(&flow, "flow", "", "Fallback flow: device-code or interactive")
	cmd.Flags().StringSliceVar(&scopes, "scope", nil, "Scope to request, repeatable (overrides the profile)")
	cmd.Flags().DurationVar(&watch, "watch", 0, "Re-check the token at this interval and print it when it changes")
	_ = cmd.RegisterFlagCompletionFunc("flow", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"device-code", "interactive"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

// watchToken keeps one session alive so the process cache is reused across
// ticks. It returns when ctx is done or an acquisition fails.
func watchToken(ctx context.Context, w io.Writer, format output.Format, s *session, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := ""
	for {
		token, err := s.client.Acquire(ctx, s.flow)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if token != last {
			if err := writeToken(w, format, s, token); err != nil {
				return err
			}
			last = token
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func writeToken(w io.Writer, format output.Format, s *session, token string) error {
	if format == output.FormatText {
		_, err := fmt.Fprintln(w, token)
		return err
	}
	// Zero, and so omitted, when the token was replaced silently.
	expiresOn, _ := s.client.CachedExpiry()
	return output.WriteObject(w, format, tokenView{
		AccessToken: token,
		ExpiresOn:   expiresOn.UTC(),
		Profile:     s.profile,
		Flow:        s.flow.String(),
		Scopes:      s.client.Config().Scopes,
	})
}
