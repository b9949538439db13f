package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/52poke/sitecache/internal/config"
	httpx "github.com/52poke/sitecache/internal/http"
	"github.com/52poke/sitecache/internal/purge"
	"github.com/52poke/sitecache/internal/server"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Install the configured cache version and serve the site",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// registered before the first install so an early SIGHUP is queued
		// instead of terminating the process
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)

		a, err := newApp(ctx)
		if err != nil {
			return err
		}

		// a failed install leaves the proxy in pass-through mode until the
		// next SIGHUP
		if _, err := a.registry.Register(ctx, a.cfg.CacheVersion, a.cfg.Manifest); err != nil {
			a.logger.Error("initial install failed", "version", a.cfg.CacheVersion, "err", err)
		}

		handler, err := httpx.NewHandler(a.cfg, a.registry, a.origin, a.logger)
		if err != nil {
			return err
		}
		purgeHandler := &purge.Handler{
			Workers:    a.registry,
			Origin:     a.origin,
			Locker:     a.locker,
			NginxPurge: a.cfg.NginxPurgeURL,
			LockTTL:    a.cfg.LockTTL(),
			Logger:     a.logger,
		}

		srv := &http.Server{
			Addr:         a.cfg.ListenAddr,
			Handler:      server.NewRouter(handler, purgeHandler, a.registry),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}

		go a.reloadOnHangup(ctx, hup, config.Load)

		errCh := make(chan error, 1)
		go func() {
			a.logger.Info("listening", "addr", a.cfg.ListenAddr)
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

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("shutdown", "err", err)
		}
		handler.Wait()
		return nil
	},
}

// reloadOnHangup re-reads the configuration on every signal from hup and
// registers the configured version. The active version keeps serving if
// that fails.
func (a *app) reloadOnHangup(ctx context.Context, hup <-chan os.Signal, load func() (config.Config, error)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		cfg, err := load()
		if err != nil {
			a.logger.Error("reload config", "err", err)
			continue
		}
		w, err := a.registry.Register(ctx, cfg.CacheVersion, cfg.Manifest)
		if err != nil {
			a.logger.Error("reinstall failed", "version", cfg.CacheVersion, "err", err)
			continue
		}
		a.logger.Info("serving", "version", w.Version, "bucket", w.Bucket)
	}
}
