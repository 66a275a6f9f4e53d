package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/opencopilot/copilot/internal/api"
	xlog "github.com/opencopilot/copilot/internal/log"
	"github.com/opencopilot/copilot/internal/reindex"
	"github.com/opencopilot/copilot/internal/version"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*cfgPath)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger := xlog.WithComponent("serve")
			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.vectors.EnsureCollections(ctx); err != nil {
				logger.Warn().Err(err).Msg("could not ensure vector collections")
			}

			sched, err := reindex.New(a.copilots, reindex.Config{
				Schedule:  cfg.Reindex.Schedule,
				BatchSize: cfg.Reindex.BatchSize,
			})
			if err != nil {
				return err
			}
			sched.Start()
			defer sched.Stop()

			srv := api.New(a.chat, a.copilots, api.Config{
				SendRateLimit: cfg.Server.SendRateLimit,
				ReindexSecret: cfg.Reindex.Secret,
			}, api.WithReindexer(sched))
			httpSrv := api.HTTPServer(cfg.Server.Addr, srv.Handler(), cfg.Server.ReadTimeout, cfg.Server.WriteTimeout)

			errCh := make(chan error, 1)
			go func() {
				logger.Info().Str("addr", cfg.Server.Addr).Str("version", version.Get().Version).Msg("listening")
				errCh <- httpSrv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			case <-ctx.Done():
			}
			logger.Info().Msg("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}
