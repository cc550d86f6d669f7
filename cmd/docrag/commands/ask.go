package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/agent"
	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/tracing"
)

// NewAskCmd constructs the `docrag ask` command, which answers a single
// question from the ingested documents.
func NewAskCmd() *cobra.Command {
	var (
		limit   int
		asJSON  bool
		showSrc bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the ingested documents",
		Long: `Embed the question, retrieve the most similar chunks, and have the chat
model answer from them.

Examples:
  docrag ask "what does the handbook say about on-call?"
  docrag ask --limit 10 --sources "how are goroutines scheduled?"
  docrag ask --json "summarise the release notes"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			flush, _ := tracing.Install(tracing.FromEnv())
			defer flush()

			st, err := buildStack(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer st.Close()

			assistant, _, err := newAssistant(ctx, st, nil)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			resp, err := assistant.Retrieve(ctx, strings.Join(args, " "), limit)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			fmt.Fprintln(out, resp.Answer)
			if showSrc {
				printSources(cmd, resp.Sources)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 0, "Number of chunks to ground the answer on (default: RETRIEVAL_DEFAULT_LIMIT or 5)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the full response as JSON")
	cmd.Flags().BoolVar(&showSrc, "sources", false, "List the sources used for the answer")

	return cmd
}

// printSources writes one line per source, best first.
func printSources(cmd *cobra.Command, sources []agent.Source) {
	out := cmd.OutOrStdout()
	if len(sources) == 0 {
		return
	}
	fmt.Fprintln(out, "\nSources:")
	for i, s := range sources {
		fmt.Fprintf(out, "  %d. %s#%d (similarity %.3f)\n", i+1, s.Source, s.ChunkIndex, s.Similarity)
	}
}
