package dietweb

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/pcrpg2df4s-blip/dietweb/internal/api"
	"github.com/pcrpg2df4s-blip/dietweb/internal/db"
	"github.com/pcrpg2df4s-blip/dietweb/internal/ledger"
	"github.com/spf13/cobra"
)

var serveAddr string

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the Mini App JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd, func(s *session) error {
			addr := s.cfg.Server.Addr
			if serveAddr != "" {
				addr = serveAddr
			}
			est, tips := s.gemini()
			if est == nil {
				s.log.Warn(cmd.Context(), "no Gemini API key configured, meal estimates will use fallback entries")
			}
			reg := api.NewRegistry(s.db, s.cfg.Storage.QuotaBytes, s.log, now,
				ledger.WithKeepOnTruncate(s.cfg.Storage.KeepOnTruncate))
			srv := api.NewServer(reg, api.Options{
				Estimator:      est,
				Tips:           tips,
				Barcodes:       s.barcodes(),
				Logger:         s.log,
				AllowedOrigins: s.cfg.Server.AllowedOrigins,
				MaxUploadBytes: s.cfg.Server.MaxUploadBytes,
				Tolerance:      s.tolerance,
				Now:            now,
			})
			httpServer := &http.Server{
				Addr:         addr,
				Handler:      srv.Handler(),
				ReadTimeout:  s.cfg.Server.ReadTimeout.Duration,
				WriteTimeout: s.cfg.Server.WriteTimeout.Duration,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			users, err := db.CountUsers(s.db)
			if err != nil {
				return err
			}
			s.log.Info(ctx, "starting server", "addr", addr, "known_users", users, "model", s.cfg.Estimator.Model)

			errCh := make(chan error, 1)
			go func() {
				errCh <- httpServer.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("serve %s: %w", addr, err)
			case <-ctx.Done():
			}

			s.log.Info(context.Background(), "shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("shutdown server: %w", err)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides config)")
}
