package commands

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/audit"
	"github.com/54b3r/docrag-go/internal/ingestion"
	"github.com/54b3r/docrag-go/internal/logging"
)

// NewIngestCmd constructs the `docrag ingest` command, which chunks, embeds
// and stores documents.
func NewIngestCmd() *cobra.Command {
	var (
		text   string
		files  []string
		urls   []string
		source string
		meta   []string
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest text, files, or URLs into the vector store",
		Long: `Split documents into overlapping chunks, embed them, and store them.

Every input is ingested atomically: either all of its chunks become
searchable or none do. Inputs are processed in order and the command stops
at the first failure.

Files are read as plain text (txt, md, csv, json). Use "-" to read stdin.

Examples:
  docrag ingest --text "Go is a statically typed language." --source go-intro
  docrag ingest --file handbook.md --meta team=platform
  docrag ingest --url https://go.dev/doc/effective_go.txt
  cat notes.txt | docrag ingest --file - --source notes`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			log := logging.FromContext(ctx)

			if text == "" && len(files) == 0 && len(urls) == 0 {
				return fmt.Errorf("ingest: one of --text, --file or --url is required")
			}
			md, err := parseMeta(meta)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}

			st, err := buildStack(ctx, log, nil)
			if err != nil {
				return fmt.Errorf("ingest: %w", err)
			}
			defer st.Close()

			pipeline, err := newPipeline(st, log, nil)
			if err != nil {
				return fmt.Errorf("ingest: failed to create pipeline: %w", err)
			}

			out := cmd.OutOrStdout()
			report := func(origin string, res *ingestion.Result) {
				audit.LogIngest(ctx, log, origin, res.SourceID, res.ChunksProcessed)
				fmt.Fprintf(out, "ingested %q: %d chunks\n", res.SourceID, res.ChunksProcessed)
			}

			if text != "" {
				res, err := pipeline.Ingest(ctx, text, source, md)
				if err != nil {
					return fmt.Errorf("ingest: text: %w", err)
				}
				report("cli:text", res)
			}

			for _, f := range files {
				doc, err := readDocument(cmd.InOrStdin(), f)
				if err != nil {
					return fmt.Errorf("ingest: %w", err)
				}
				doc.SourceID = source
				doc.Metadata = md
				res, err := pipeline.IngestDocument(ctx, nil, doc)
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", f, err)
				}
				report("cli:file", res)
			}

			for _, u := range urls {
				res, err := pipeline.IngestURL(ctx, nil, u, source, md)
				if err != nil {
					return fmt.Errorf("ingest: %s: %w", u, err)
				}
				report("cli:url", res)
			}

			if n, err := st.store.Count(ctx); err == nil {
				log.Info("ingestion complete", slog.Int("records", n))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&text, "text", "t", "", "Raw text to ingest")
	cmd.Flags().StringArrayVarP(&files, "file", "f", nil, `File to ingest, "-" for stdin (repeatable)`)
	cmd.Flags().StringArrayVarP(&urls, "url", "u", nil, "URL to fetch and ingest (repeatable)")
	cmd.Flags().StringVarP(&source, "source", "s", "", "Source id (default: text-input, the file name, or the URL)")
	cmd.Flags().StringArrayVarP(&meta, "meta", "m", nil, "Metadata key=value stored with every chunk (repeatable)")

	return cmd
}

// readDocument loads path, or stdin for "-", as a Document.
func readDocument(stdin io.Reader, path string) (ingestion.Document, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return ingestion.Document{}, fmt.Errorf("read stdin: %w", err)
		}
		return ingestion.Document{Filename: "stdin", MimeType: "text/plain", Data: data}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ingestion.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	return ingestion.Document{Filename: filepath.Base(path), Data: data}, nil
}
