package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roman-kulish/radio-pspec/cmd/pspec/app"
)

func main() {
	var logLevel slog.LevelVar
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: &logLevel}))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd(&logLevel, logger).ExecuteContext(ctx); err != nil {
		logger.Error(err.Error())

		cancel()
		os.Exit(1)
	}
}

func newRootCmd(logLevel *slog.LevelVar, logger *slog.Logger) *cobra.Command {
	var (
		configPath string
		overwrite  bool
		dbPath     string
	)

	loadConfig := func() (*app.Config, error) {
		if configPath == "" {
			return nil, errors.New("no configuration file provided")
		}
		config, err := app.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		logLevel.Set(config.Settings.LogLevel)
		return config, nil
	}

	root := &cobra.Command{
		Use:           "pspec",
		Short:         "Estimate delay power spectra from interferometric visibilities",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Estimate power spectra of the configured dataset pairs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			_, err = app.Run(cmd.Context(), config, logger)
			return err
		},
	}

	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Write synthetic visibility datasets to the database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			config, err := loadConfig()
			if err != nil {
				return err
			}
			return app.Simulate(cmd.Context(), config, overwrite, logger)
		},
	}
	simulateCmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace datasets with the same label")

	lsCmd := &cobra.Command{
		Use:   "ls",
		Short: "List stored datasets and power spectra",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dbPath == "" {
				config, err := loadConfig()
				if err != nil {
					return err
				}
				dbPath = config.Settings.DB
			}
			return app.List(cmd.Context(), dbPath, cmd.OutOrStdout())
		},
	}
	lsCmd.Flags().StringVar(&dbPath, "db", "", "Path to the database, overrides the configuration")

	root.AddCommand(runCmd, simulateCmd, lsCmd)
	return root
}
