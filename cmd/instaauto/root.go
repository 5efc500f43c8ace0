package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jo-hoe/instaauto/internal/caption"
	"github.com/jo-hoe/instaauto/internal/caption/aiproxy"
	"github.com/jo-hoe/instaauto/internal/caption/mock"
	"github.com/jo-hoe/instaauto/internal/config"
	"github.com/jo-hoe/instaauto/internal/dispatch"
	"github.com/jo-hoe/instaauto/internal/jobs"
	"github.com/jo-hoe/instaauto/internal/platform"
)

// app carries state shared by all subcommands once the config is loaded.
type app struct {
	cfgPath string
	out     io.Writer
	cfg     *config.Config
	log     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{out: os.Stdout}
	root := &cobra.Command{
		Use:           "instaauto",
		Short:         "Schedule and publish Instagram posts through an automation webhook",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVar(&a.cfgPath, "config", "", "path to config file (default $INSTAAUTO_CONFIG or config.yaml)")

	root.AddCommand(newServeCmd(a), newWatchCmd(a), newNotifyCmd(a))
	return root
}

func (a *app) load() error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	lvl, err := config.ParseLogLevel(cfg.Server.LogLevel)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log = slog.New(slog.NewTextHandler(a.out, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(a.log)
	return nil
}

func (a *app) dispatcher() *dispatch.Dispatcher {
	d := a.cfg.Dispatch
	retries := 0
	if d.MaxRetries != nil {
		retries = *d.MaxRetries
		if retries == 0 {
			retries = -1
		}
	}
	return dispatch.New(a.log, dispatch.Config{
		URL:           d.WebhookURL,
		Token:         d.Token,
		NotifyTimeout: d.NotifyTimeout,
		UploadTimeout: d.UploadTimeout,
		MaxRetries:    retries,
		Backoff:       d.Backoff,
	})
}

func (a *app) openStore() (*jobs.SQLStore, error) {
	db := a.cfg.Database
	target := db.Path
	if db.Driver == config.DriverPostgres {
		target = db.DSN
	}
	return jobs.Open(db.Driver, target)
}

func (a *app) captionGenerator() (caption.Generator, error) {
	switch a.cfg.Caption.Provider {
	case config.ProviderMock:
		return mock.New(a.cfg.Caption.Mock), nil
	case config.ProviderAIProxy:
		return aiproxy.New(a.cfg.Caption.AIProxy), nil
	}
	return nil, fmt.Errorf("unsupported caption provider %q", a.cfg.Caption.Provider)
}

func (a *app) poster(d *dispatch.Dispatcher) (platform.Poster, error) {
	switch a.cfg.Platform.Type {
	case config.PlatformWebhook:
		if !d.Configured() {
			a.log.Warn("webhook url not configured, posts will fail", "env", config.EnvWebhookURL)
		}
		return platform.NewWebhook(d), nil
	case config.PlatformMock:
		return &platform.Mock{Log: a.log}, nil
	}
	return nil, fmt.Errorf("unsupported platform type %q", a.cfg.Platform.Type)
}
