package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/docrag-go/internal/logging"
	"github.com/54b3r/docrag-go/internal/metrics"
	"github.com/54b3r/docrag-go/internal/server"
	"github.com/54b3r/docrag-go/internal/tracing"
)

// NewServeCmd constructs the `docrag serve` command, which starts the HTTP API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docrag HTTP API",
		Long: `Start the docrag HTTP server.

Routes:
  POST /api/ingest        JSON {text, source, metadata}
  POST /api/ingest/file   multipart form: file, source, metadata
  POST /api/query         JSON {query, limit}
  GET  /api/health        liveness
  GET  /api/ready         dependency readiness
  GET  /metrics           Prometheus metrics

Set DOCRAG_API_KEY to require "Authorization: Bearer <key>" on /api/ingest*
and /api/query.

Examples:
  docrag serve
  docrag serve --port 9090
  STORE_BACKEND=qdrant docrag serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)

			flush, traced := tracing.Install(tracing.FromEnv())
			defer flush()
			if traced {
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY or LANGFUSE_SECRET_KEY not set"))
			}

			m := metrics.New(prometheus.DefaultRegisterer)

			st, err := buildStack(ctx, log, m)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer st.Close()

			pipeline, err := newPipeline(st, log, m)
			if err != nil {
				return fmt.Errorf("serve: failed to create pipeline: %w", err)
			}
			assistant, providerCfg, err := newAssistant(ctx, st, m)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			log.Info("provider initialised", slog.String("provider", string(providerCfg.Backend)))

			s := st.settings
			if cmd.Flags().Changed("host") {
				s.ServerHost = host
			}
			if cmd.Flags().Changed("port") {
				s.ServerPort = port
			}

			srv, err := server.New(pipeline, assistant, &server.Config{
				Host:            s.ServerHost,
				Port:            s.ServerPort,
				ReadTimeout:     s.ReadTimeout,
				WriteTimeout:    s.WriteTimeout,
				ShutdownTimeout: s.ShutdownTimeout,
				Logger:          log,
				Pingers:         buildPingers(st, providerCfg),
				RateLimit:       s.RateLimit,
				RateBurst:       s.RateBurst,
				APIKey:          s.APIKey,
				MaxQueryLimit:   s.MaxLimit,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides SERVER_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (overrides SERVER_PORT)")

	return cmd
}
