package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/audit"
)

// NewConfigCmd constructs the `docrag config` command, which prints the
// effective configuration with secrets redacted.
func NewConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration (secrets redacted)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "config_file\t%s\n", audit.SanitiseConfigPath(loadedConfigPath))
			for _, e := range audit.Snapshot() {
				fmt.Fprintf(w, "%s\t%s\n", e.Key, e.Value)
			}
			return w.Flush()
		},
	}
}
