package main

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"example.com/mini-kv/pkg/config"
	"example.com/mini-kv/pkg/wal"
)

const helpWidth = 50

// flagHelp renders flag help text, appending the accepted values when the
// flag takes one of a fixed set, and wraps it at helpWidth columns.
func flagHelp(text string, choices ...string) string {
	if len(choices) > 0 {
		text += " (one of: " + strings.Join(choices, ", ") + ")"
	}
	var lines []string
	var line strings.Builder
	for _, word := range strings.Fields(text) {
		if line.Len() > 0 && line.Len()+1+len(word) > helpWidth {
			lines = append(lines, line.String())
			line.Reset()
		}
		if line.Len() > 0 {
			line.WriteByte(' ')
		}
		line.WriteString(word)
	}
	if line.Len() > 0 {
		lines = append(lines, line.String())
	}
	return strings.Join(lines, "\n")
}

// setupFlags adds the storage and logging flags shared by every command.
func setupFlags(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	key := "config"
	flags.String(key, "minikv.yaml", flagHelp("Path of the YAML config file. A missing file means built-in defaults"))
	key = "dir"
	flags.String(key, "", flagHelp("Data directory holding the sorted table and the commit log"))
	key = "engine"
	flags.String(key, "", flagHelp("Storage engine. The memory engine keeps nothing after exit", "disk", "memory"))
	key = "fsync"
	flags.String(key, "", flagHelp("When to fsync the commit log. none is only safe for tests", wal.FsyncAlways, wal.FsyncNone))
	key = "compression"
	flags.String(key, "", flagHelp("Block compression for the sorted table", "s2", "none"))
	key = "wal-roll-size"
	flags.Int64(key, 0, flagHelp("Start a new commit log segment after this many bytes"))
	key = "auto-compact"
	flags.Int(key, 0, flagHelp("Compact automatically once this many operations are pending (0 = only on request)"))
	key = "tolerate-torn-tail"
	flags.Bool(key, false, flagHelp("Drop a damaged record at the end of the commit log instead of refusing to open"))
	key = "log-level"
	flags.String(key, "", flagHelp("Log level", "debug", "info", "warn", "error"))
	key = "log-json"
	flags.Bool(key, false, flagHelp("Log as JSON instead of text"))
}

// initEnv loads .env files and lets MINIKV_* variables stand in for flags
// that were not given on the command line.
func initEnv() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("minikv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadConfig reads the config file and applies every flag or environment
// variable that was explicitly set. A flag wins over its variable, and
// either wins over the file.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(viper.GetString("config"))
	if err != nil {
		return cfg, err
	}
	s := &cfg.Storage
	if viper.IsSet("dir") {
		s.Dir = viper.GetString("dir")
	}
	if viper.IsSet("engine") {
		s.Engine = viper.GetString("engine")
	}
	if viper.IsSet("fsync") {
		s.FsyncPolicy = viper.GetString("fsync")
	}
	if viper.IsSet("compression") {
		s.Compression = viper.GetString("compression")
	}
	if viper.IsSet("wal-roll-size") {
		s.WALRollSize = viper.GetInt64("wal-roll-size")
	}
	if viper.IsSet("auto-compact") {
		s.AutoCompactOps = viper.GetInt("auto-compact")
	}
	if viper.IsSet("tolerate-torn-tail") {
		s.TolerateTornTail = viper.GetBool("tolerate-torn-tail")
	}
	if viper.IsSet("log-level") {
		cfg.Logger.Level = viper.GetString("log-level")
	}
	if viper.IsSet("log-json") {
		cfg.Logger.JSON = viper.GetBool("log-json")
	}
	return cfg, cfg.Validate()
}
