package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"example.com/mini-kv/pkg/config"
	"example.com/mini-kv/pkg/lsm"
	"example.com/mini-kv/pkg/repl"
)

const (
	Version = "0.1.0"
)

var (
	cfg    config.Config
	logger *slog.Logger

	// rootCmd runs the interactive shell when called without a subcommand
	rootCmd = &cobra.Command{
		Use:   "minikv",
		Short: "single-table durable key-value store",
		Long: fmt.Sprintf(`minikv (v%s)

A single-table key-value store. Writes go to a commit log before they
are acknowledged; .compact folds them into an immutable sorted table.

Commands read from stdin, one per line:
  select <key> | insert <key> <value> | delete <key>
  .dump | .compact | .stats | .exit`, Version),
		PersistentPreRunE: setup,
		RunE:              runShell,
		SilenceUsage:      true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of minikv",
		// no table or config needed
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("minikv v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(initEnv)
	setupFlags(rootCmd)

	rootCmd.AddCommand(selectCmd)
	rootCmd.AddCommand(insertCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(compactCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(versionCmd)
}

func setup(cmd *cobra.Command, _ []string) error {
	c, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg = c
	// stdout carries command replies, logs go to stderr
	logger = config.NewLogger(cfg.Logger, os.Stderr)
	slog.SetDefault(logger)
	logger.Debug("config loaded", "engine", cfg.Storage.Engine, "dir", cfg.Storage.Dir)
	return nil
}

// withTable opens the configured table for the duration of fn.
func withTable(fn func(table lsm.Table) error) (err error) {
	table, err := cfg.Storage.OpenTable(logger)
	if err != nil {
		return fmt.Errorf("open table: %w", err)
	}
	defer func() {
		if cerr := table.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(table)
}

func runShell(cmd *cobra.Command, _ []string) error {
	return withTable(func(table lsm.Table) error {
		fmt.Fprintln(cmd.OutOrStdout(), "Enter a command")
		shell := repl.New(table, cmd.OutOrStdout(), logger)
		return shell.Run(cmd.Context(), cmd.InOrStdin())
	})
}

// runOne executes a single shell command.
func runOne(cmd *cobra.Command, c repl.Command) error {
	return withTable(func(table lsm.Table) error {
		_, err := repl.New(table, cmd.OutOrStdout(), logger).Execute(cmd.Context(), c)
		return err
	})
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		if logger != nil {
			logger.Error("minikv failed", "err", err)
		}
		os.Exit(1)
	}
}
