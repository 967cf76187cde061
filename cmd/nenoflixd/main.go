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

	"github.com/quic-go/quic-go/http3"

	"github.com/programadorcaro/nenoflix-uploader/internal/config"
	"github.com/programadorcaro/nenoflix-uploader/internal/logging"
	"github.com/programadorcaro/nenoflix-uploader/internal/sequencer"
	"github.com/programadorcaro/nenoflix-uploader/internal/server"
	"github.com/programadorcaro/nenoflix-uploader/internal/session"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "nenoflixd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.ParseServerConfig()
	if err != nil {
		return err
	}
	logger := logging.New("nenoflixd", cfg.LogLevel, cfg.LogFormat)

	for _, dir := range []string{cfg.MediaRoot, cfg.StagingRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}

	store := session.NewStore(session.Config{
		TTL:           cfg.SessionTTL,
		RecentWindow:  cfg.SessionRecentWindow,
		MinAge:        cfg.SessionMinAge,
		SweepInterval: cfg.EvictionInterval,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go store.RunEviction(ctx, cfg.StagingRoot, logger)

	srv := server.New(server.Options{
		MediaRoot:   cfg.MediaRoot,
		StagingRoot: cfg.StagingRoot,
		Store:       store,
		Sequencer:   sequencer.New(logger),
		Logger:      logger,
	})
	handler := srv.Router(cfg.CORSOrigins)

	httpSrv := &http.Server{
		Addr:    cfg.Addr,
		Handler: handler,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "media_root", cfg.MediaRoot, "staging_root", cfg.StagingRoot)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var h3 *http3.Server
	if cfg.EnableHTTP3 {
		h3 = &http3.Server{Addr: cfg.Addr, Handler: handler}
		go func() {
			logger.Info("listening http3", "addr", cfg.Addr)
			if err := h3.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	if h3 != nil {
		if err := h3.Close(); err != nil {
			logger.Warn("http3 shutdown incomplete", "error", err)
		}
	}
	return nil
}
