package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/sitecache/host"
	"github.com/unkn0wn-root/sitecache/internal/app"
	"github.com/unkn0wn-root/sitecache/internal/config"
	"github.com/unkn0wn-root/sitecache/internal/httpserver"
	"github.com/unkn0wn-root/sitecache/internal/logging"
)

var cmdServe = &cobra.Command{
	Use:   "serve",
	Short: "Install the configured version and serve the site",
	Long: `
The "serve" command installs and activates the configured version, then
serves every request through it. Operational endpoints are /healthz and
/metrics.

EXIT STATUS
===========

Exit status is 0 after a graceful shutdown, and non-zero if the version could
not be installed or the listener failed.
`,
	DisableAutoGenTag: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), globalOptions, serveOptions)
	},
}

// ServeOptions bundles all options for the serve command.
type ServeOptions struct {
	Listen          string
	ShutdownTimeout time.Duration
}

var serveOptions ServeOptions

func init() {
	cmdRoot.AddCommand(cmdServe)

	f := cmdServe.Flags()
	f.StringVar(&serveOptions.Listen, "listen", "", "listen address, overrides the config file")
	f.DurationVar(&serveOptions.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "grace period for in-flight requests")
}

func runServe(ctx context.Context, gopts GlobalOptions, opts ServeOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.NewLoader().LoadFile(gopts.ConfigPath)
	if err != nil {
		return err
	}
	if opts.Listen != "" {
		cfg.Listen = opts.Listen
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("loaded config",
		zap.String("version", cfg.Version),
		zap.String("origin", cfg.Origin),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("genstore", cfg.GenStore.Backend),
		zap.String("codec", cfg.Codec.Name),
		zap.Int("manifest", len(cfg.Manifest)),
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	reg := host.NewRegistration(a.Log)
	if err := a.Register(ctx, reg); err != nil {
		logger.Error("install failed", zap.String("version", cfg.Version), zap.Error(err))
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           httpserver.NewRouter(logger, reg, host.NewHandler(reg, a.Log), a.Registry),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Fetch.Timeout + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving", zap.String("addr", srv.Addr), zap.String("version", cfg.Version))
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

	logger.Info("shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return err
	}
	return <-errCh
}
