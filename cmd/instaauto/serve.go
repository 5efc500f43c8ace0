package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/instaauto/internal/jobs"
	"github.com/jo-hoe/instaauto/internal/processor"
	"github.com/jo-hoe/instaauto/internal/server"
	"github.com/jo-hoe/instaauto/internal/storage"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the submission API and the background publishing workers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return a.serve(ctx)
		},
	}
}

func (a *app) serve(rootCtx context.Context) error {
	cfg, logger := a.cfg, a.log

	store, err := a.openStore()
	if err != nil {
		logger.Error("open store", "driver", cfg.Database.Driver, "err", err)
		return err
	}
	defer func() { _ = store.Close() }()

	d := a.dispatcher()
	captions, err := a.captionGenerator()
	if err != nil {
		return err
	}
	poster, err := a.poster(d)
	if err != nil {
		return err
	}

	// Worker and queue
	proc := processor.New(logger, store, captions, poster)
	queue := jobs.NewQueue(logger, cfg.Server.QueueCapacity, cfg.Server.WorkerCount)
	// Shutdown drains the queue, so workers must outlive the signal.
	if err := queue.Start(context.WithoutCancel(rootCtx), proc); err != nil {
		logger.Error("start queue", "err", err)
		return err
	}

	httpSrv := server.NewHTTPServer(&server.Service{
		Log:      logger,
		Cfg:      cfg,
		Store:    store,
		Queue:    queue,
		Uploader: storage.NewUploader(cfg.Server.StorageDir),
		Tokens:   d,
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", "address", cfg.Server.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error
	var serveErr error
	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error("server error", "err", serveErr)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.Server.ShutdownGrace)
	defer cancelShutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", "err", err)
	}
	queue.Shutdown(cfg.Server.ShutdownGrace)
	logger.Info("server stopped")
	return serveErr
}
