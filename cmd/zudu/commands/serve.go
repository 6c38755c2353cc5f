package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/54b3r/zudu-go/internal/agent"
	"github.com/54b3r/zudu-go/internal/logging"
	"github.com/54b3r/zudu-go/internal/server"
)

// NewServeCmd constructs the `zudu serve` command, which starts the HTTP
// server for voice sessions.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Zudu HTTP server",
		Long: `Start the Zudu HTTP server.

The speech front end creates a session with POST /api/sessions, then posts
each transcribed caller utterance to POST /api/sessions/{id}/turns and
speaks the reply. Knowledge-base context is retrieved and injected on every
turn.

Examples:
  zudu serve
  zudu serve --port 9090
  VECTOR_BACKEND=qdrant REDIS_URL=redis://localhost:6379/0 zudu serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			log := logging.FromContext(ctx)

			rt, err := runtimeFromEnv("serve")
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("host") {
				rt.Host = host
			}
			if cmd.Flags().Changed("port") {
				rt.Port = port
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			st, err := openStack(ctx, rt, reg, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer st.Close()

			// srv is assigned before the first request can reach save_lead.
			var srv *server.Server
			deps, err := buildAgent(ctx, st, func() {
				if srv != nil {
					srv.LeadSaved()
				}
			}, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer deps.flush()

			sessions, stopSessions := agent.NewRegistry(deps.agent, agent.DefaultIdleTimeout)
			defer stopSessions()

			srv, err = server.New(sessions, st.cache, st.db, &server.Config{
				Host:        rt.Host,
				Port:        rt.Port,
				TurnTimeout: rt.TurnTimeout,
				Logger:      log,
				Pingers:     append(st.pingers(), deps.llmPinger()),
				APIKey:      rt.APIKey,
				Registry:    reg,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			log.Info("serve starting",
				slog.String("vector_backend", rt.VectorBackend),
				slog.Int("cache_size", rt.CacheSize),
				slog.Int("top_k", rt.TopK),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (overrides ZUDU_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (overrides ZUDU_PORT)")
	return cmd
}
