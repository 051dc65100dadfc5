package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/benkoppe/sustainabotily/internal/metrics"
	"github.com/benkoppe/sustainabotily/internal/session"
	chiTransport "github.com/benkoppe/sustainabotily/internal/transport/chi"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve chat sessions over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx, opts, nil, "")
			if err != nil {
				return err
			}
			defer a.close()
			engine, gen, err := a.engine()
			if err != nil {
				return err
			}
			metrics.Register()

			if addr == "" {
				addr = a.cfg.HTTP.Addr
			}
			server := chiTransport.NewServer(chiTransport.Options{
				Engine:   engine,
				Sessions: session.NewStore(),
				Searcher: a.retriever,
				Info: chiTransport.Info{
					Chunks:    a.index.Len(),
					Embedder:  a.embedder.Name(),
					Generator: gen.Name(),
					Digest:    a.meta.Digest,
				},
				Logger: a.logger,
			})
			// No WriteTimeout: replies are streamed for as long as the model talks.
			srv := &http.Server{
				Addr:              addr,
				Handler:           server.Router(),
				ReadHeaderTimeout: time.Duration(a.cfg.HTTP.ReadTimeoutSec) * time.Second,
				ReadTimeout:       time.Duration(a.cfg.HTTP.ReadTimeoutSec) * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.logger.Info("Starting HTTP server", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
				close(errCh)
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}
			a.logger.Info("Received shutdown signal")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(a.cfg.HTTP.ShutdownSec)*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("Error during shutdown", zap.Error(err))
				return err
			}
			a.logger.Info("Server stopped gracefully")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides http.addr)")
	return cmd
}
