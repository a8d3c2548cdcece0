package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/evalagent/internal/api"
)

var serveBind string

// serveCmd runs the HTTP API until interrupted
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the evaluation API over HTTP",
	Long: `Serve run triggers, issue review and the source registry over HTTP.

Set api.token (or EVALAGENT_API_TOKEN) to require a bearer token on every
route except /health.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := openApp(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		addr := a.cfg.API.BindAddr
		if serveBind != "" {
			addr = serveBind
		}
		if a.cfg.API.Token == "" {
			a.log.Warn("api token is empty, routes are unauthenticated")
		}
		a.log.Info("starting api", zap.String("addr", addr))

		srv := api.NewServer(a.cfg.API, a.orchestrator, a.issues, a.registry, a.checks, a.log)
		return srv.Serve(ctx, addr)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveBind, "bind", "", "listen address (overrides api.bind_addr)")
}
