package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloudretail/saga/idempotency"
	"github.com/cloudretail/saga/internal/api"
	"github.com/cloudretail/saga/internal/auth"
)

func newServeCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API until interrupted.

Examples:
  # Serve with a local SQLite database
  RETAILSAGA_JWT_SECRET=$(openssl rand -hex 32) retailsaga serve --db-path shop.db

  # Serve against Postgres, prompting for the password
  retailsaga serve --driver postgres --host localhost --user retail --database shop -W`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				a.cfg.HTTP.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return a.serve(ctx)
		},
	}

	cmd.Flags().String("addr", "", "Listen address (overrides http.addr)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	if a.cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is required to serve the API (set RETAILSAGA_JWT_SECRET)")
	}
	tokens, err := auth.NewTokens(a.cfg.Auth.JWTSecret, a.cfg.Auth.Issuer, a.cfg.Auth.TokenTTL)
	if err != nil {
		return err
	}

	env, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := env.Close(); err != nil {
			a.logger.Warn("failed to close resources", zap.Error(err))
		}
	}()

	users := auth.NewService(auth.NewRepository(env.db), tokens, a.logger.Named("auth"))
	server := api.NewServer(env.svc, users, env.db.PingContext, env.registry, a.logger.Named("http"))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(ctx, a.cfg.HTTP.Addr, a.cfg.HTTP.ShutdownTimeout)
	})
	if a.cfg.Idempotency.TTL > 0 && a.cfg.Idempotency.PurgeInterval > 0 {
		g.Go(func() error {
			purgeLoop(ctx, env.guard, a.cfg.Idempotency.PurgeInterval, a.logger)
			return nil
		})
	}

	err = g.Wait()
	a.logger.Info("retailsaga stopped")
	return err
}

// purgeLoop drops expired idempotency records until ctx is done.
func purgeLoop(ctx context.Context, guard *idempotency.Guard, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := guard.Purge(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("failed to purge idempotency records", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				logger.Info("purged idempotency records", zap.Int64("count", n))
			}
		}
	}
}
