package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/eqho10/eqho-aios/internal/api"
	"github.com/eqho10/eqho-aios/internal/history"
)

func (a *app) cmdServe(ctx context.Context, args []string) error {
	fs := a.flags("serve")
	addr := fs.String("addr", "", "listen address (default server.addr)")
	pos, err := parseFlags(fs, args)
	if err != nil {
		return err
	}
	if len(pos) > 0 {
		return a.usageError("serve [--addr :8787]")
	}

	cfg, logger, err := a.setup(false)
	if err != nil {
		return err
	}
	defer logger.Sync()
	if *addr == "" {
		*addr = cfg.Server.Addr
	}

	var runs api.Runs
	store, err := history.Open(ctx, cfg, logger)
	if err != nil {
		logger.Warn("run history unavailable", zap.Error(err))
	} else {
		defer store.Close()
		runs = store
	}

	handler := api.NewHandler(storyStore(cfg, logger), runs, version, logger)
	srv := &http.Server{
		Addr:              *addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("EqhoAIOS API listening", zap.String("addr", *addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
