package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/FCisco95/organic-app-sub000/internal/app"
	"github.com/FCisco95/organic-app-sub000/internal/engine"
	"github.com/FCisco95/organic-app-sub000/internal/server"
	"github.com/FCisco95/organic-app-sub000/internal/sweeper"
)

func serveCmd() *cobra.Command {
	var (
		addr, basePath   string
		allowActorHeader bool
		devLogin         bool
		sweepInterval    time.Duration
		noSweeper        bool
		noWebhooks       bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API with the background sweeper and webhook forwarder",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" && !allowActorHeader {
				return errors.New("ORGANIC_JWT_SECRET is required unless --allow-actor-header is set")
			}
			workspace := viper.GetString("workspace")
			orgOverride := viper.GetString("org")
			logger := newLogger()
			conn, err := app.Open(workspace)
			if err != nil {
				return err
			}
			defer conn.Close()

			// Fail fast on a missing org before accepting traffic.
			if _, err := app.NewEngine(cmd.Context(), conn, workspace, orgOverride, logger); err != nil {
				return err
			}
			engines := func(ctx context.Context) (engine.Engine, error) {
				return app.NewEngine(ctx, conn, workspace, orgOverride, logger)
			}

			handler, err := server.New(server.Config{
				Engines:  engines,
				BasePath: basePath,
				Auth: server.AuthConfig{
					JWTSecret:        secret,
					AllowActorHeader: allowActorHeader,
					DevLogin:         devLogin,
				},
				Logger: logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			g, gctx := errgroup.WithContext(ctx)

			srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
			if !noSweeper {
				sw := sweeper.New(func(ctx context.Context) (sweeper.Jobs, error) {
					e, err := engines(ctx)
					if err != nil {
						return nil, err
					}
					return e, nil
				}, sweeper.Config{Interval: sweepInterval, Logger: logger})
				g.Go(func() error { return sw.Run(gctx) })
			}
			if !noWebhooks {
				d := server.NewWebhookDispatcher(server.DispatcherConfig{Engines: engines, Logger: logger})
				g.Go(func() error { return d.Run(gctx) })
			}

			fmt.Printf("Serving Organic API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at %s/docs)\n", addr, basePath, basePath, basePath)
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	cmd.Flags().BoolVar(&allowActorHeader, "allow-actor-header", false, "trust X-Actor-Id without a token (local use only)")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login")
	cmd.Flags().DurationVar(&sweepInterval, "sweep-interval", sweeper.DefaultInterval, "background sweep interval")
	cmd.Flags().BoolVar(&noSweeper, "no-sweeper", false, "disable the background sweeper")
	cmd.Flags().BoolVar(&noWebhooks, "no-webhooks", false, "disable webhook forwarding")
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		memberID string
		ttl      time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an API bearer token for a member (uses ORGANIC_JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if memberID == "" {
				memberID = actorID()
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.GetMember(ctx, memberID); err != nil {
					return fmt.Errorf("member %s: %w", memberID, err)
				}
				token, err := server.SignToken(viper.GetString("jwt-secret"), memberID, ttl)
				if err != nil {
					return err
				}
				if jsonOutput() {
					return printJSON(map[string]string{"member_id": memberID, "token": token})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&memberID, "member", "", "member id (defaults to --actor-id)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	return cmd
}
