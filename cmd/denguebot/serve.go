package main

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/amp-labs/denguebot/config"
	"github.com/amp-labs/denguebot/conversation"
	"github.com/amp-labs/denguebot/logger"
	"github.com/amp-labs/denguebot/shutdown"
	"github.com/amp-labs/denguebot/telemetry"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook server",
		Long: "Serve the LINE webhook, health, metrics and admin endpoints. " +
			"Configuration files are reloaded when they change.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			envFiles, err := cmd.Flags().GetStringSlice("env-file")
			if err != nil {
				return err
			}

			return serve(cmd.Context(), envFiles)
		},
	}
}

func setupObservability(ctx context.Context) error {
	tcfg, err := telemetry.LoadConfigFromEnv(logger.WithSubsystem(ctx, appName), "local")
	if err != nil {
		return err
	}

	if err := telemetry.Initialize(ctx, tcfg); err != nil {
		return err
	}

	shutdown.BeforeShutdown("telemetry", telemetry.Shutdown)

	var opts []logger.Option
	if handler := telemetry.LogHandler(); handler != nil {
		opts = append(opts, logger.WithHandlers(handler))
	}

	_, err = logger.ConfigureLogging(appName, opts...)

	return err
}

func serve(parent context.Context, envFiles []string) error {
	cfg, err := config.Load(envFiles...)
	if err != nil {
		return err
	}

	ctx := shutdown.SetupHandler(parent)

	if err := setupObservability(ctx); err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	var watcher *conversation.Watcher

	if paths := a.sources.Paths(); cfg.Machine.Watch && len(paths) > 0 {
		if watcher, err = conversation.NewWatcher(paths, conversation.DefaultDebounce, a.service.Reload); err != nil {
			return errors.Join(err, a.close())
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      a.server,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		BaseContext: func(net.Listener) context.Context {
			return context.WithoutCancel(ctx)
		},
	}

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		logger.Get(gctx).InfoContext(gctx, "Listening", "addr", cfg.HTTP.Addr)

		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	group.Go(func() error {
		<-gctx.Done()

		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		logger.Get(stopCtx).InfoContext(stopCtx, "Shutting down HTTP server")

		err := httpServer.Shutdown(stopCtx)
		a.server.Close()

		return err
	})

	if watcher != nil {
		group.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	return errors.Join(group.Wait(), a.close())
}
