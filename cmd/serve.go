package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/carrier-scraper/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scraping session API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		srv := server.New(env.Manager, env.Store, env.Carriers, server.Config{
			Port:            cfg.Server.Port,
			CORSOrigins:     cfg.Server.CORSOrigins,
			ShutdownTimeout: secs(cfg.Server.ShutdownTimeoutSecs),
			Circuits:        env.Controller.Circuits,
		})

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return srv.Run(gctx)
		})
		g.Go(func() error {
			if err := env.Sweeper.Start(gctx); err != nil {
				return err
			}
			<-gctx.Done()
			env.Sweeper.Stop()
			return nil
		})
		if env.Checker != nil {
			g.Go(func() error {
				env.Checker.Run(gctx)
				return nil
			})
		}

		err = g.Wait()

		// Running scrapes record an interrupted failure and release their browsers.
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), secs(cfg.Server.ShutdownTimeoutSecs)+10*time.Second)
		defer cancel()
		if serr := env.Manager.Shutdown(shutdownCtx); serr != nil {
			zap.L().Error("session shutdown incomplete", zap.Error(serr))
		}
		return err
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
