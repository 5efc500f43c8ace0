package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/instaauto/internal/config"
	"github.com/jo-hoe/instaauto/internal/watcher"
)

func newWatchCmd(a *app) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Upload media dropped into a directory and sort it into Enviados or Erros",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = a.cfg.Watcher.Directory
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return a.watch(ctx, dir)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory to watch (default watcher.directory)")
	return cmd
}

func (a *app) watch(ctx context.Context, dir string) error {
	d := a.dispatcher()
	if !d.Configured() {
		a.log.Warn("webhook url not configured, files will move to Erros", "env", config.EnvWebhookURL)
	}
	events, err := watcher.Watch(ctx, a.log, dir)
	if err != nil {
		a.log.Error("watch directory", "dir", dir, "err", err)
		return err
	}
	a.log.Info("watching directory", "dir", dir)
	watcher.New(a.log, dir, a.cfg.Watcher.SettleDelay, d).Run(ctx, events)
	a.log.Info("watcher stopped")
	return nil
}
