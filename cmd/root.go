// Package cmd defines and implements the CLI commands for the pricewatch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pricewatch/internal/app"
	"github.com/JakeFAU/pricewatch/internal/config"
	"github.com/JakeFAU/pricewatch/internal/monitor"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App defines the application interface that commands will use.
type App interface {
	Monitor() *monitor.Service
	Run(ctx context.Context) error
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return app.Build(ctx, cfg, nil)
}

// newRootCmd creates the root command. The returned func closes the App
// built for whichever subcommand ran.
func newRootCmd() (*cobra.Command, func(context.Context) error) {
	var (
		cfgFile  string
		instance App
	)
	cmd := &cobra.Command{
		Use:   "pricewatch",
		Short: "Tracks product prices with per-domain extraction routines.",
		Long: `pricewatch keeps a watchlist of product URLs. Each URL is refreshed by
running its domain's extraction routine against the rendered page, and the
result is merged into the item's price history.`,
		SilenceUsage: true,

		// Builds the application after flags are parsed but before the
		// subcommand's RunE.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			instance, err = newApp(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, instance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(
		newServeCmd(),
		newInsertCmd(),
		newListCmd(),
		newRefreshCmd(),
		newRoutineCmd(),
	)

	closeApp := func(ctx context.Context) error {
		if instance == nil {
			return nil
		}
		return instance.Close(ctx)
	}
	return cmd, closeApp
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

func run(ctx context.Context, args []string) error {
	root, closeApp := newRootCmd()
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if cerr := closeApp(context.WithoutCancel(ctx)); cerr != nil && err == nil {
		err = fmt.Errorf("shutdown: %w", cerr)
	}
	return err
}

// Execute is the main entry point.
func Execute() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
