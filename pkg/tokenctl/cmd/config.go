package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telekom/tokenctl/pkg/tokenctl/config"
	"github.com/telekom/tokenctl/pkg/tokenctl/output"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage tokenctl configuration",
	}

	cmd.AddCommand(
		newConfigInitCommand(),
		newConfigViewCommand(),
		newConfigGetProfilesCommand(),
		newConfigCurrentProfileCommand(),
		newConfigUseProfileCommand(),
		newConfigAddProfileCommand(),
		newConfigDeleteProfileCommand(),
		newConfigSetValueCommand(),
	)

	return cmd
}

// profileFlags are shared by init and add-profile.
type profileFlags struct {
	authority string
	clientID  string
	scopes    []string
	flow      string
	caFile    string
	insecure  bool
	noBrowser bool
}

func (f *profileFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.authority, "authority", "", "Identity provider authority URL")
	cmd.Flags().StringVar(&f.clientID, "client-id", "", "Public client ID")
	cmd.Flags().StringSliceVar(&f.scopes, "scope", nil, "Scope to request, repeatable")
	cmd.Flags().StringVar(&f.flow, "flow", "", "Fallback flow: device-code or interactive")
	cmd.Flags().StringVar(&f.caFile, "ca-file", "", "CA file for the identity provider")
	cmd.Flags().BoolVar(&f.insecure, "insecure-skip-tls-verify", false, "Skip TLS verification")
	cmd.Flags().BoolVar(&f.noBrowser, "no-browser", false, "Never open a browser for this profile")
	_ = cmd.MarkFlagRequired("authority")
	_ = cmd.MarkFlagRequired("client-id")
}

func (f *profileFlags) profile(name string) config.Profile {
	return config.Profile{
		Name:            name,
		Authority:       strings.TrimSpace(f.authority),
		ClientID:        strings.TrimSpace(f.clientID),
		Scopes:          f.scopes,
		Flow:            f.flow,
		CAFile:          f.caFile,
		InsecureSkipTLS: f.insecure,
		NoBrowser:       f.noBrowser,
	}
}

func newConfigInitCommand() *cobra.Command {
	var (
		profileName string
		force       bool
		flags       profileFlags
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a tokenctl config file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			path := rt.configPathValue()
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("config already exists: %s", path)
				}
			}
			if profileName == "" {
				profileName = "default"
			}
			cfg := config.DefaultConfig()
			if err := cfg.AddProfile(flags.profile(profileName)); err != nil {
				return err
			}
			if err := config.Save(path, &cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Initialized config at %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&profileName, "name", "default", "Profile name")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite existing config")
	flags.register(cmd)
	return cmd
}

func newConfigViewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "view",
		Short: "Show the current configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			format := output.FormatYAML
			if rt.outputFormat == string(output.FormatJSON) {
				format = output.FormatJSON
			}
			return output.WriteObject(rt.Writer(), format, rt.cfg)
		},
	}
}

func newConfigGetProfilesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get-profiles",
		Short: "List configured profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			current := rt.cfg.CurrentProfileOrDefault()
			for _, p := range rt.cfg.Profiles {
				marker := " "
				if p.Name == current {
					marker = "*"
				}
				flow, _ := p.FlowKind()
				_, _ = fmt.Fprintf(rt.Writer(), "%s %s\t%s\t%s\t%s\n", marker, p.Name, p.Authority, p.ClientID, flow)
			}
			return nil
		},
	}
}

func newConfigCurrentProfileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "current-profile",
		Short: "Show the current profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), rt.ResolveProfileName())
			return nil
		},
	}
}

func newConfigUseProfileCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "use-profile NAME",
		Aliases: []string{"use"},
		Short:   "Set the default profile",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			name := args[0]
			if _, err := rt.cfg.FindProfile(name); err != nil {
				return err
			}
			rt.cfg.CurrentProfile = name
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "%s\n", name)
			return nil
		},
	}
}

func newConfigAddProfileCommand() *cobra.Command {
	var flags profileFlags
	cmd := &cobra.Command{
		Use:   "add-profile NAME",
		Short: "Add a new profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			name := args[0]
			if err := rt.cfg.AddProfile(flags.profile(name)); err != nil {
				return err
			}
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Added profile %s\n", name)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newConfigDeleteProfileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-profile NAME",
		Short: "Delete a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			name := args[0]
			if err := rt.cfg.DeleteProfile(name); err != nil {
				return err
			}
			if err := config.Save(rt.configPathValue(), rt.cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Deleted profile %s\n", name)
			return nil
		},
	}
}

func newConfigSetValueCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Long: `Set a configuration value. Supported keys:
  settings.output-format        text, json or yaml
  settings.device-code-timeout  duration, e.g. 15m
  settings.interactive-timeout  duration, e.g. 5m
  settings.provider-cache-ttl   duration, e.g. 12h`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if err := rt.EnsureConfigLoaded(); err != nil {
				return err
			}
			key, value := args[0], args[1]
			setting, ok := strings.CutPrefix(key, "settings.")
			if !ok {
				return fmt.Errorf("unsupported key: %s", key)
			}
			if err := rt.cfg.SetSetting(setting, value); err != nil {
				return err
			}
			return config.Save(rt.configPathValue(), rt.cfg)
		},
	}
}
