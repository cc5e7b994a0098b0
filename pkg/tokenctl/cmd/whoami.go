package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/spf13/cobra"

	"github.com/telekom/tokenctl/pkg/tokenctl/output"
)

// identity is what whoami reports. Claims are read without verification; the
// token was just issued to this process by the configured issuer.
type identity struct {
	Profile   string         `json:"profile" yaml:"profile"`
	Subject   string         `json:"subject,omitempty" yaml:"subject,omitempty"`
	Username  string         `json:"username,omitempty" yaml:"username,omitempty"`
	Issuer    string         `json:"issuer,omitempty" yaml:"issuer,omitempty"`
	Audience  []string       `json:"audience,omitempty" yaml:"audience,omitempty"`
	ExpiresAt time.Time      `json:"expiresAt,omitzero" yaml:"expiresAt,omitempty"`
	Source    string         `json:"source" yaml:"source"`
	Claims    map[string]any `json:"claims,omitempty" yaml:"claims,omitempty"`
}

func NewWhoamiCommand() *cobra.Command {
	var flow string

	cmd := &cobra.Command{
		Use:   "whoami",
		Short: "Show the identity behind the current profile's token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			format, err := output.ParseFormat(rt.OutputFormat())
			if err != nil {
				return err
			}
			s, err := rt.newSession(sessionOptions{flow: flow})
			if err != nil {
				return err
			}
			accessToken, err := s.client.Acquire(cmd.Context(), s.flow)
			if err != nil {
				return err
			}

			raw, source := idTokenFor(cmd.Context(), s), "id_token"
			if raw == "" {
				raw, source = accessToken, "access_token"
			}
			id, err := decodeIdentity(raw)
			if err != nil {
				return err
			}
			id.Profile = s.profile
			id.Source = source

			if format != output.FormatText {
				return output.WriteObject(rt.Writer(), format, id)
			}
			return output.WriteKeyValues(rt.Writer(),
				[]string{"profile", "subject", "username", "issuer", "expires", "source"},
				map[string]string{
					"profile":  id.Profile,
					"subject":  id.Subject,
					"username": id.Username,
					"issuer":   id.Issuer,
					"expires":  formatTime(id.ExpiresAt),
					"source":   id.Source,
				})
		},
	}

	cmd.Flags().StringVar(&flow, "flow", "", "Fallback flow: device-code or interactive")
	return cmd
}

// idTokenFor returns the ID token the provider cached for the signed-in
// account, if any. The lookup is served from the provider cache.
func idTokenFor(ctx context.Context, s *session) string {
	accounts, err := s.provider.Accounts(ctx)
	if err != nil || len(accounts) == 0 {
		return ""
	}
	result, err := s.provider.SilentAcquire(ctx, s.client.Config().Scopes, &accounts[0])
	if err != nil {
		return ""
	}
	return result.IDToken
}

func decodeIdentity(raw string) (identity, error) {
	claims := jwt.MapClaims{}
	parser := jwt.Parser{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return identity{}, errors.New("token is not a JWT, no claims to show")
	}
	id := identity{Claims: claims}
	id.Subject, _ = claims["sub"].(string)
	id.Issuer, _ = claims["iss"].(string)
	if aud, ok := claims["aud"].(string); ok {
		id.Audience = []string{aud}
	} else if list, ok := claims["aud"].([]any); ok {
		for _, a := range list {
			if s, ok := a.(string); ok {
				id.Audience = append(id.Audience, s)
			}
		}
	}
	for _, key := range []string{"preferred_username", "upn", "email", "name"} {
		if v, ok := claims[key].(string); ok && v != "" {
			id.Username = v
			break
		}
	}
	if exp, ok := claims["exp"].(float64); ok {
		id.ExpiresAt = time.Unix(int64(exp), 0).UTC()
	}
	return id, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s (in %s)", t.Format(time.RFC3339), time.Until(t).Round(time.Second))
}
