package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/telekom/tokenctl/pkg/tokenctl/output"
	"github.com/telekom/tokenctl/pkg/version"
)

func NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show tokenctl version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := version.GetBuildInfo()

			// Get runtime if available (for custom writer), but don't fail if missing
			rt, _ := getRuntime(cmd)
			writer := cmd.OutOrStdout()
			format := output.FormatText
			if rt != nil {
				writer = rt.Writer()
				parsed, err := output.ParseFormat(rt.OutputFormat())
				if err != nil {
					return err
				}
				format = parsed
			}

			if format == output.FormatText {
				_, _ = fmt.Fprintln(writer, info.String())
				return nil
			}
			return output.WriteObject(writer, format, info)
		},
	}
}
