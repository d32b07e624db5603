package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func TestFlagHelp(t *testing.T) {
	text := "Compact automatically once this many operations are pending (0 = only on request)"
	got := flagHelp(text)
	for _, line := range strings.Split(got, "\n") {
		if len(line) > helpWidth {
			t.Fatalf("line longer than %d: %q", helpWidth, line)
		}
	}
	if strings.Join(strings.Fields(got), " ") != text {
		t.Fatalf("words changed: %q", got)
	}
	if flagHelp("") != "" {
		t.Fatalf("empty input should stay empty")
	}
}

func TestFlagHelpListsChoices(t *testing.T) {
	got := strings.Join(strings.Fields(flagHelp("Storage engine", "disk", "memory")), " ")
	if got != "Storage engine (one of: disk, memory)" {
		t.Fatalf("help=%q", got)
	}
}

func TestLoadConfigPrecedence(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	dir := t.TempDir()
	yml := filepath.Join(dir, "minikv.yaml")
	if err := os.WriteFile(yml, []byte("storage:\n  dir: /from/file\n  fsync: none\n  engine: disk\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MINIKV_DIR", "/from/env")
	t.Setenv("MINIKV_ENGINE", "memory")
	initEnv()

	cmd := &cobra.Command{Use: "minikv"}
	setupFlags(cmd)
	if err := cmd.ParseFlags([]string{"--config", yml, "--dir", "/from/flag"}); err != nil {
		t.Fatal(err)
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	s := cfg.Storage
	if s.Dir != "/from/flag" || s.Engine != "memory" || s.FsyncPolicy != "none" {
		t.Fatalf("precedence mismatch: dir=%q engine=%q fsync=%q", s.Dir, s.Engine, s.FsyncPolicy)
	}
}
