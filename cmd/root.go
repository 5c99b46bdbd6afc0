// Package cmd defines and implements the CLI commands for the madara-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/madara-crawler/internal/config"
	"github.com/JakeFAU/madara-crawler/internal/crawler"
	"github.com/JakeFAU/madara-crawler/internal/queue"
	"github.com/JakeFAU/madara-crawler/internal/scheduler"
	"github.com/JakeFAU/madara-crawler/internal/server"
	"github.com/JakeFAU/madara-crawler/internal/settings"
	"github.com/JakeFAU/madara-crawler/internal/store"
)

var cfgFile string

type ctxKey string

const (
	appKey ctxKey = "app"
	cfgKey ctxKey = "config"

	// annotationNoApp marks commands that only need the config.
	annotationNoApp = "no-app"
	// annotationOwnsApp marks commands that close the app themselves.
	annotationOwnsApp = "owns-app"
)

// App defines the application surface the commands use. *server.App
// satisfies it; tests inject a lighter graph through newApp.
type App interface {
	Run(ctx context.Context) error
	Close(ctx context.Context)
	Logger() *zap.Logger
	Repository() *store.Repository
	Settings() *settings.Provider
	Queue() *queue.Queue
	Sources() *crawler.Sources
	Collections() *crawler.CollectionCrawler
	Units() *crawler.UnitCrawler
	Dispatcher() *crawler.Dispatcher
	Scheduler() *scheduler.Scheduler
}

// newApp is the application factory, swapped out in tests.
var newApp = func(ctx context.Context, cfg *config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "madara-crawler",
		Short: "Catalog and download series from Madara-themed reading sites.",
		Long: `madara-crawler registers Madara-themed sites as sources, catalogs their
collections and units, and downloads unit pages through a persistent
priority queue. Run "serve" for the HTTP API and the periodic scheduler,
or drive single operations from the other subcommands.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ctx := context.WithValue(cmd.Context(), cfgKey, &cfg)
			if cmd.Annotations[annotationNoApp] == "" {
				appInstance, err := newApp(ctx, &cfg)
				if err != nil {
					return fmt.Errorf("failed to initialize application services: %w", err)
				}
				ctx = context.WithValue(ctx, appKey, appInstance)
			}
			cmd.SetContext(ctx)
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if cmd.Annotations[annotationOwnsApp] != "" {
				return
			}
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(context.Background())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (environment variables use the MADARA_ prefix)")

	cmd.AddCommand(
		newServeCmd(),
		newMigrateCmd(),
		newSourceCmd(),
		newScrapeCmd(),
		newQueueCmd(),
		newCheckCmd(),
		newSettingsCmd(),
	)
	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func resolveConfig(ctx context.Context) (*config.Config, error) {
	cfg, ok := ctx.Value(cfgKey).(*config.Config)
	if !ok || cfg == nil {
		return nil, errors.New("configuration not loaded")
	}
	return cfg, nil
}
