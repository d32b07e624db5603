// Package config holds the YAML configuration of the minikv binary.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/goccy/go-yaml"

	"example.com/mini-kv/pkg/lsm"
)

type Config struct {
	Logger  LoggerConfig  `yaml:"logger"`
	Storage StorageConfig `yaml:"storage"`
}

type LoggerConfig struct {
	Level string `yaml:"level"` // debug|info|warn|error
	JSON  bool   `yaml:"json"`
}

type StorageConfig struct {
	Engine           string  `yaml:"engine"` // disk|memory
	Dir              string  `yaml:"dir"`
	FsyncPolicy      string  `yaml:"fsync"`
	WALRollSize      int64   `yaml:"wal_roll_size"`
	TolerateTornTail bool    `yaml:"tolerate_torn_tail"`
	BlockSize        int     `yaml:"block_size"`
	BloomFpRate      float64 `yaml:"bloom_fp_rate"`
	Compression      string  `yaml:"compression"`
	AutoCompactOps   int     `yaml:"auto_compact_ops"`
}

// Default returns a baseline config.
func Default() Config {
	return Config{
		Logger: LoggerConfig{
			Level: "info",
			JSON:  false,
		},
		Storage: StorageConfig{
			Engine:      "disk",
			Dir:         "./data",
			FsyncPolicy: "always",
			WALRollSize: 64 << 20,
			BlockSize:   4 << 10,
			BloomFpRate: 0.01,
			Compression: "s2",
		},
	}
}

// Load reads a YAML file on top of Default. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Info("config file not found, using default config", "path", path)
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.Logger.Level); err != nil {
		errs = append(errs, err)
	}
	s := c.Storage
	switch s.Engine {
	case "disk":
		if s.Dir == "" {
			errs = append(errs, errors.New("storage.dir is required for the disk engine"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.engine %q is not one of disk, memory", s.Engine))
	}
	if s.FsyncPolicy != "always" && s.FsyncPolicy != "none" {
		errs = append(errs, fmt.Errorf("storage.fsync %q is not one of always, none", s.FsyncPolicy))
	}
	if s.Compression != "s2" && s.Compression != "none" {
		errs = append(errs, fmt.Errorf("storage.compression %q is not one of s2, none", s.Compression))
	}
	if s.WALRollSize < 0 {
		errs = append(errs, errors.New("storage.wal_roll_size must not be negative"))
	}
	if s.BlockSize <= 0 {
		errs = append(errs, errors.New("storage.block_size must be positive"))
	}
	if s.BloomFpRate < 0 || s.BloomFpRate >= 1 {
		errs = append(errs, errors.New("storage.bloom_fp_rate must be in [0, 1)"))
	}
	if s.AutoCompactOps < 0 {
		errs = append(errs, errors.New("storage.auto_compact_ops must not be negative"))
	}
	return errors.Join(errs...)
}

func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("logger.level %q is not one of debug, info, warn, error", level)
}

// NewLogger builds a JSON or text logger writing to w.
func NewLogger(cfg LoggerConfig, w io.Writer) *slog.Logger {
	level, _ := ParseLevel(cfg.Level)
	opts := &slog.HandlerOptions{Level: level, AddSource: level == slog.LevelDebug}
	var handler slog.Handler
	if cfg.JSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Options converts the storage section into engine options.
func (s StorageConfig) Options(logger *slog.Logger) lsm.Options {
	return lsm.Options{
		Dir:              s.Dir,
		WALRollSize:      s.WALRollSize,
		FsyncPolicy:      s.FsyncPolicy,
		TolerateTornTail: s.TolerateTornTail,
		BlockSize:        s.BlockSize,
		BloomFpRate:      s.BloomFpRate,
		Compression:      s.Compression,
		AutoCompactOps:   s.AutoCompactOps,
		Logger:           logger,
	}
}

// OpenTable opens the engine the config selects.
func (s StorageConfig) OpenTable(logger *slog.Logger) (lsm.Table, error) {
	if s.Engine == "memory" {
		return lsm.NewMemoryTable(), nil
	}
	return lsm.Open(s.Options(logger))
}
