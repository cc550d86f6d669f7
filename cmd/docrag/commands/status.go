package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/embedder"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/provider"
)

// NewStatusCmd constructs the `docrag status` command, which reports the
// store contents and probes the configured dependencies.
func NewStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show vector store size and dependency reachability",
		Long: `Open the configured vector store, report its backend, dimension and record
count, and probe each dependency the server's /api/ready would check.

Exits non-zero when any probe fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			st, err := buildStack(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}
			defer st.Close()

			count, err := st.store.Count(ctx)
			if err != nil {
				return fmt.Errorf("status: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(w, "store\t%s\n", st.settings.StoreBackend)
			fmt.Fprintf(w, "dimension\t%d\n", st.store.Dimension())
			fmt.Fprintf(w, "records\t%d\n", count)
			fmt.Fprintf(w, "embedding\t%s\n", embedder.Backend())

			providerCfg := provider.FromEnv()
			fmt.Fprintf(w, "model\t%s\n", providerCfg.Backend)

			failed := 0
			for _, p := range buildPingers(st, providerCfg) {
				probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				err := p.Ping(probeCtx)
				cancel()
				state := "ok"
				if err != nil {
					state = "FAIL: " + err.Error()
					failed++
				}
				fmt.Fprintf(w, "probe %s\t%s\n", p.Name(), state)
			}
			if err := w.Flush(); err != nil {
				return err
			}

			if failed > 0 {
				return fmt.Errorf("status: %d dependency probe(s) failed", failed)
			}
			return nil
		},
	}
}
