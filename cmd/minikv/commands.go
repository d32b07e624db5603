package main

import (
	"github.com/spf13/cobra"

	"example.com/mini-kv/pkg/repl"
)

var (
	selectCmd = &cobra.Command{
		Use:   "select [key]",
		Short: "Print the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOne(cmd, repl.Command{Kind: repl.Select, Key: args[0]})
		},
	}
	insertCmd = &cobra.Command{
		Use:   "insert [key] [value]",
		Short: "Create a key. Fails with \"Duplicate key\" if it already exists",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOne(cmd, repl.Command{Kind: repl.Insert, Key: args[0], Value: args[1]})
		},
	}
	deleteCmd = &cobra.Command{
		Use:   "delete [key]",
		Short: "Delete a key. Fails with \"Not found\" if it does not exist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOne(cmd, repl.Command{Kind: repl.Delete, Key: args[0]})
		},
	}
	compactCmd = &cobra.Command{
		Use:   "compact",
		Short: "Fold the commit log into a new sorted table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOne(cmd, repl.Command{Kind: repl.Compact})
		},
	}
	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Print pending operations per key and table sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOne(cmd, repl.Command{Kind: repl.Dump})
		},
	}
	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Print table metrics in Prometheus text format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOne(cmd, repl.Command{Kind: repl.Stats})
		},
	}
)
