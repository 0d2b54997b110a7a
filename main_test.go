package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/otherjamesbrown/calinsight/config"
)

func TestVersionCommand(t *testing.T) {
	if versionCmd == nil {
		t.Fatal("versionCmd is nil")
	}
	if versionCmd.Use != "version" {
		t.Errorf("Unexpected Use: %s", versionCmd.Use)
	}
	if versionCmd.Short != "Print version information" {
		t.Errorf("Unexpected Short: %s", versionCmd.Short)
	}
}

func TestVersionOutput(t *testing.T) {
	defer func() { outputFormat = "" }()

	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	defer versionCmd.SetOut(nil)

	outputFormat = ""
	if err := versionCmd.RunE(versionCmd, nil); err != nil {
		t.Fatalf("version failed: %v", err)
	}
	if !strings.HasPrefix(buf.String(), "calinsight ") {
		t.Errorf("text output should start with the binary name, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "Go version:") {
		t.Errorf("text output should include the Go version, got %q", buf.String())
	}

	buf.Reset()
	outputFormat = "json"
	if err := versionCmd.RunE(versionCmd, nil); err != nil {
		t.Fatalf("version -o json failed: %v", err)
	}
	var info map[string]any
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatalf("version -o json is not JSON: %v\n%s", err, buf.String())
	}
	for _, key := range []string{"version", "commit", "build_time", "go_version"} {
		if _, ok := info[key]; !ok {
			t.Errorf("JSON output missing %q: %v", key, info)
		}
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"sync", "runs", "db", "directory", "stats", "ask", "serve", "config", "completion", "version"}
	for _, name := range want {
		c, _, err := rootCmd.Find([]string{name})
		if err != nil || c == rootCmd {
			t.Errorf("command %q not registered", name)
			continue
		}
		if c.GroupID == "" {
			t.Errorf("command %q has no help group", name)
		}
	}
}

func TestGlobalFlags(t *testing.T) {
	for _, name := range []string{"config", "output", "debug", "log-json"} {
		if rootCmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("--%s flag not found on root command", name)
		}
	}
	if f := rootCmd.PersistentFlags().Lookup("output"); f != nil && f.Shorthand != "o" {
		t.Errorf("--output shorthand = %q, want o", f.Shorthand)
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	defer func() {
		cfgFile = ""
		configInitForce = false
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	}()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"config", "init", "--config", path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("config init failed: %v", err)
	}
	if !strings.Contains(buf.String(), "Created configuration file: "+path) {
		t.Errorf("unexpected output: %s", buf.String())
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("loading written config: %v", err)
	}
	if cfg.Sync.DefaultYears != config.DefaultConfig().Sync.DefaultYears {
		t.Errorf("DefaultYears = %d, want default", cfg.Sync.DefaultYears)
	}

	buf.Reset()
	rootCmd.SetArgs([]string{"config", "init", "--config", path})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("second config init failed: %v", err)
	}
	if !strings.Contains(buf.String(), "already exists") {
		t.Errorf("existing file should not be overwritten without --force: %s", buf.String())
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("config file missing: %v", err)
	}
}

func TestCompletionCommand(t *testing.T) {
	defer func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	}()

	var buf bytes.Buffer
	rootCmd.SetOut(&buf)
	rootCmd.SetArgs([]string{"completion", "bash"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("completion bash failed: %v", err)
	}
	if !strings.Contains(buf.String(), "calinsight") {
		t.Error("bash completion should mention the binary name")
	}

	rootCmd.SetArgs([]string{"completion", "tcsh"})
	if err := rootCmd.Execute(); err == nil {
		t.Error("unsupported shell should be rejected")
	}
}
