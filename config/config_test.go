package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
)

// isolate points the config dir at a temp dir and clears env overrides.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CALINSIGHT_CONFIG_DIR", dir)
	for _, key := range []string{
		"DATABASE_URL", "CALINSIGHT_DATABASE_URL", "CALINSIGHT_DB_DRIVER", "CALINSIGHT_USERS",
		"CALINSIGHT_OVERLAP_MARGIN", "CALINSIGHT_OUTPUT_FORMAT", "OPENAI_API_KEY",
		"CALINSIGHT_OPENAI_API_KEY", "CALINSIGHT_DIRECTORY_SOURCE", "CALINSIGHT_LOG_JSON",
	} {
		t.Setenv(key, "")
	}
	return dir
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("Database.Driver = %v, want postgres", cfg.Database.Driver)
	}
	if cfg.Sync.OverlapMargin.Std() != 24*time.Hour {
		t.Errorf("OverlapMargin = %v, want 24h", cfg.Sync.OverlapMargin)
	}
	if cfg.Sync.DefaultYears != 2 {
		t.Errorf("DefaultYears = %v, want 2", cfg.Sync.DefaultYears)
	}
	if cfg.Calendar.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %v, want 3", cfg.Calendar.MaxAttempts)
	}
	if cfg.OutputFormat != OutputFormatText {
		t.Errorf("OutputFormat = %v, want text", cfg.OutputFormat)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestOutputFormat_IsValid(t *testing.T) {
	tests := []struct {
		format OutputFormat
		want   bool
	}{
		{OutputFormatText, true},
		{OutputFormatJSON, true},
		{OutputFormatYAML, true},
		{"xml", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := tt.format.IsValid(); got != tt.want {
			t.Errorf("OutputFormat(%q).IsValid() = %v, want %v", tt.format, got, tt.want)
		}
	}
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "custom.yaml")
	content := `
database:
  driver: sqlite
  sqlite_path: /tmp/meetings.db
calendar:
  users: [ana@example.com, bo@example.com]
  call_timeout: 5s
sync:
  overlap_margin: 36h
  batch_size: 100
output_format: json
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Database.Driver != DriverSQLite || cfg.Database.SQLitePath != "/tmp/meetings.db" {
		t.Errorf("unexpected database config %+v", cfg.Database)
	}
	if len(cfg.Calendar.Users) != 2 || cfg.Calendar.Users[1] != "bo@example.com" {
		t.Errorf("Users = %v", cfg.Calendar.Users)
	}
	if cfg.Calendar.CallTimeout.Std() != 5*time.Second {
		t.Errorf("CallTimeout = %v, want 5s", cfg.Calendar.CallTimeout)
	}
	if cfg.Sync.OverlapMargin.Std() != 36*time.Hour {
		t.Errorf("OverlapMargin = %v, want 36h", cfg.Sync.OverlapMargin)
	}
	if cfg.Sync.BatchSize != 100 {
		t.Errorf("BatchSize = %v, want 100", cfg.Sync.BatchSize)
	}
	// Keys absent from the file keep defaults.
	if cfg.Sync.ChunkDays != DefaultChunkDays {
		t.Errorf("ChunkDays = %v, want default %v", cfg.Sync.ChunkDays, DefaultChunkDays)
	}
	if cfg.OutputFormat != OutputFormatJSON {
		t.Errorf("OutputFormat = %v, want json", cfg.OutputFormat)
	}
}

func TestLoadConfig_MissingDefaultFileIsFine(t *testing.T) {
	isolate(t)
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Database.Driver != DriverPostgres {
		t.Errorf("expected defaults, got %+v", cfg.Database)
	}
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	dir := isolate(t)
	if _, err := LoadConfig(filepath.Join(dir, "nope.yaml")); err == nil {
		t.Error("expected error for missing explicit config file")
	}
}

func TestLoadConfig_InvalidDuration(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("sync:\n  overlap_margin: soon\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("expected parse error for invalid duration")
	}
}

func TestLoadConfig_EnvOverlay(t *testing.T) {
	isolate(t)
	t.Setenv("CALINSIGHT_DATABASE_URL", "postgres://cal:secret@db:5432/cal")
	t.Setenv("CALINSIGHT_USERS", "ana@example.com, ,bo@example.com")
	t.Setenv("CALINSIGHT_OVERLAP_MARGIN", "2h")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("CALINSIGHT_LOG_JSON", "true")

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Database.URL != "postgres://cal:secret@db:5432/cal" {
		t.Errorf("Database.URL = %v", cfg.Database.URL)
	}
	if len(cfg.Calendar.Users) != 2 {
		t.Errorf("Users = %v, want 2 entries", cfg.Calendar.Users)
	}
	if cfg.Sync.OverlapMargin.Std() != 2*time.Hour {
		t.Errorf("OverlapMargin = %v, want 2h", cfg.Sync.OverlapMargin)
	}
	if !cfg.Assistant.Enabled() {
		t.Error("expected assistant enabled from OPENAI_API_KEY")
	}
	if !cfg.Logging.JSON {
		t.Error("expected JSON logging from env")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errSub string
	}{
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }, "database.driver"},
		{"bad provider", func(c *Config) { c.Calendar.Provider = "outlook" }, "calendar.provider"},
		{"page size", func(c *Config) { c.Calendar.PageSize = 5000 }, "page_size"},
		{"attempts", func(c *Config) { c.Calendar.MaxAttempts = 0 }, "max_attempts"},
		{"batch size", func(c *Config) { c.Sync.BatchSize = 0 }, "batch_size"},
		{"negative margin", func(c *Config) { c.Sync.OverlapMargin = Duration(-time.Hour) }, "overlap_margin"},
		{"file source needs file", func(c *Config) { c.Directory.Source = DirectoryFile }, "directory.file"},
		{"output", func(c *Config) { c.OutputFormat = "xml" }, "output_format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.errSub) {
				t.Errorf("error %q does not mention %q", err, tt.errSub)
			}
			if !cierrors.IsConfig(err) {
				t.Errorf("expected ErrConfig in chain, got %v", err)
			}
		})
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "saved", "config.yaml")

	cfg := DefaultConfig()
	cfg.Sync.OverlapMargin = Duration(90 * time.Minute)
	cfg.Calendar.Users = []string{"ana@example.com"}
	if err := SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("config file mode = %v, want 0600", info.Mode().Perm())
	}

	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), "overlap_margin: 1h30m0s") {
		t.Errorf("expected duration written as string, got:\n%s", data)
	}

	loaded, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.Sync.OverlapMargin != cfg.Sync.OverlapMargin {
		t.Errorf("OverlapMargin = %v, want %v", loaded.Sync.OverlapMargin, cfg.Sync.OverlapMargin)
	}
}

func TestRedacted(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.URL = "postgres://cal:secret@db:5432/cal"
	cfg.Assistant.APIKey = "sk-live"

	r := cfg.Redacted()
	if strings.Contains(r.Database.URL, "secret") {
		t.Errorf("password not redacted: %s", r.Database.URL)
	}
	if r.Database.URL != "postgres://cal:****@db:5432/cal" {
		t.Errorf("unexpected redacted url %s", r.Database.URL)
	}
	if r.Assistant.APIKey != "****" {
		t.Errorf("api key not redacted")
	}
	if cfg.Assistant.APIKey != "sk-live" {
		t.Error("Redacted must not mutate the original")
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" a@x.com,, b@x.com ,")
	if len(got) != 2 || got[0] != "a@x.com" || got[1] != "b@x.com" {
		t.Errorf("SplitList() = %v", got)
	}
}
