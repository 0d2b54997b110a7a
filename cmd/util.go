// Package cmd provides CLI commands for the calinsight tool.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/otherjamesbrown/calinsight/config"
	"github.com/otherjamesbrown/calinsight/pkg/calendar"
	"github.com/otherjamesbrown/calinsight/pkg/db"
	"github.com/otherjamesbrown/calinsight/pkg/directory"
	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
	"github.com/otherjamesbrown/calinsight/pkg/logging"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
	"github.com/otherjamesbrown/calinsight/pkg/observability"
	"github.com/otherjamesbrown/calinsight/pkg/store"
)

// ANSI colors for text output.
const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
)

// Deps holds the dependencies shared by all commands. Config and Logger are
// filled in by the root command before any subcommand runs; tests set them
// directly.
type Deps struct {
	Config *config.Config
	Logger logging.Logger

	OpenStore func(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error)
	NewSource func(cfg *config.Config, metrics *observability.SyncMetrics, logger logging.Logger) (calendar.Source, error)
	NewRedis  func(cfg config.RedisConfig) redis.UniversalClient
	Now       func() time.Time
}

// DefaultDeps returns the dependencies for production use.
func DefaultDeps() *Deps {
	return &Deps{
		OpenStore: store.Open,
		NewSource: buildSource,
		NewRedis:  newRedisClient,
		Now:       time.Now,
	}
}

func (d *Deps) config() (*config.Config, error) {
	if d.Config == nil {
		return nil, fmt.Errorf("configuration not loaded: %w", cierrors.ErrConfig)
	}
	return d.Config, nil
}

func (d *Deps) logger() logging.Logger {
	if d.Logger == nil {
		return logging.NewNopLogger()
	}
	return d.Logger
}

func (d *Deps) now() time.Time {
	if d.Now == nil {
		return time.Now()
	}
	return d.Now()
}

// openStore connects to the configured database, applying pending migrations
// when migrate is set.
func (d *Deps) openStore(ctx context.Context, migrate bool) (store.Store, error) {
	cfg, err := d.config()
	if err != nil {
		return nil, err
	}
	open := d.OpenStore
	if open == nil {
		open = store.Open
	}
	s, err := open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	if !migrate {
		return s, nil
	}
	m, err := s.Migrator()
	if err == nil {
		_, err = m.Up(ctx)
	}
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}
	return s, nil
}

// redis returns a client when Redis is configured, or nil.
func (d *Deps) redis() redis.UniversalClient {
	if d.Config == nil || !d.Config.Redis.Enabled() {
		return nil
	}
	if d.NewRedis == nil {
		return newRedisClient(d.Config.Redis)
	}
	return d.NewRedis(d.Config.Redis)
}

func newRedisClient(cfg config.RedisConfig) redis.UniversalClient {
	if !cfg.Enabled() {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// retryPolicy derives the calendar retry policy from configuration. Retries
// are counted on metrics when it is non-nil.
func retryPolicy(cfg config.CalendarConfig, metrics *observability.SyncMetrics, logger logging.Logger) calendar.RetryPolicy {
	p := calendar.DefaultRetryPolicy()
	p.MaxAttempts = cfg.MaxAttempts
	if cfg.RetryBaseDelay > 0 {
		p.InitialBackoff = cfg.RetryBaseDelay.Std()
	}
	if cfg.RetryMaxDelay > 0 {
		p.MaxBackoff = cfg.RetryMaxDelay.Std()
	}
	p.OnRetry = func(attempt int, err error, wait time.Duration) {
		if metrics != nil {
			metrics.FetchRetriesTotal.Inc()
		}
		logger.Warn("retrying calendar call",
			logging.F("attempt", attempt),
			logging.F("wait", wait),
			logging.Err(err))
	}
	return p
}

// buildSource creates the configured calendar source.
func buildSource(cfg *config.Config, metrics *observability.SyncMetrics, logger logging.Logger) (calendar.Source, error) {
	cal := cfg.Calendar
	retry := retryPolicy(cal, metrics, logger)

	switch cal.Provider {
	case config.ProviderICal:
		if cal.ICalURLTemplate == "" {
			return nil, fmt.Errorf("calendar.ical_url_template is required for the ical provider: %w", cierrors.ErrConfig)
		}
		return &calendar.ICalSource{
			URLTemplate: cal.ICalURLTemplate,
			Client:      &http.Client{},
			CallTimeout: cal.CallTimeout.Std(),
			Retry:       retry,
			Logger:      logger.With(logging.F("source", "ical")),
		}, nil

	case config.ProviderGoogle, "":
		if cal.CredentialsFile == "" {
			return nil, fmt.Errorf("calendar.credentials_file is required for the google provider: %w", cierrors.ErrConfig)
		}
		factory := calendar.ServiceAccountFactory(cal.CredentialsFile)
		if cal.TokenFile != "" {
			factory = calendar.TokenFileFactory(cal.CredentialsFile, cal.TokenFile)
		}
		return calendar.NewGoogleSource(factory, calendar.GoogleOptions{
			CalendarID:  cal.CalendarID,
			PageSize:    cal.PageSize,
			CallTimeout: cal.CallTimeout.Std(),
			Retry:       retry,
			Logger:      logger,
		}), nil

	default:
		return nil, fmt.Errorf("unknown calendar provider %q: %w", cal.Provider, cierrors.ErrConfig)
	}
}

// directoryHandle is an opened directory plus what it takes to close it.
type directoryHandle struct {
	directory.Directory

	// Static is set for the file source so serve can watch it.
	Static *directory.StaticDirectory

	closers []func() error
}

func (h *directoryHandle) Close() error {
	var first error
	for _, c := range h.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// openDirectory opens the configured directory source, fronted by the Redis
// lookup cache when rdb is non-nil.
func openDirectory(ctx context.Context, cfg *config.Config, rdb redis.UniversalClient, logger logging.Logger) (*directoryHandle, error) {
	h := &directoryHandle{Directory: directory.Nop}

	switch cfg.Directory.Source {
	case config.DirectoryNone, "":
		return h, nil

	case config.DirectoryFile:
		static, err := directory.LoadStatic(cfg.Directory.File)
		if err != nil {
			return nil, fmt.Errorf("loading directory file: %w", err)
		}
		h.Directory = static
		h.Static = static
		logger.Debug("directory file loaded", logging.F("path", cfg.Directory.File), logging.F("entries", static.Len()))

	case config.DirectoryDatabase:
		sqlDir, closeFn, err := openSQLDirectory(ctx, cfg)
		if err != nil {
			return nil, err
		}
		h.Directory = sqlDir
		h.closers = append(h.closers, closeFn)

	default:
		return nil, fmt.Errorf("unknown directory source %q: %w", cfg.Directory.Source, cierrors.ErrConfig)
	}

	if rdb != nil {
		h.Directory = directory.NewCached(h.Directory, rdb, cfg.Directory.CacheTTL.Std(), logger)
	}
	return h, nil
}

// openSQLDirectory connects to the database holding the users table: the
// dedicated directory URL when set, otherwise the meetings database.
func openSQLDirectory(ctx context.Context, cfg *config.Config) (*directory.SQLDirectory, func() error, error) {
	if cfg.Directory.DatabaseURL == "" && cfg.Database.Driver == config.DriverSQLite {
		handle, err := db.OpenSQLite(ctx, cfg.Database.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening directory database: %w", err)
		}
		return directory.NewSQL(handle), handle.Close, nil
	}

	dsn := cfg.Directory.DatabaseURL
	if dsn == "" {
		dsn = cfg.Database.URL
	}
	if dsn == "" {
		return nil, nil, fmt.Errorf("directory.database_url or database.url is required for the database directory: %w", cierrors.ErrConfig)
	}
	d, err := directory.OpenSQL(dsn)
	if err != nil {
		return nil, nil, err
	}
	if err := d.Ping(ctx); err != nil {
		d.Close()
		return nil, nil, fmt.Errorf("connecting to directory database: %w", err)
	}
	return d, d.Close, nil
}

// WriteStructured encodes v as JSON or YAML. It reports false for text
// output, which each command renders itself.
func WriteStructured(w io.Writer, format config.OutputFormat, v any) (bool, error) {
	switch format {
	case config.OutputFormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return true, enc.Encode(v)
	case config.OutputFormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return true, enc.Encode(v)
	default:
		return false, nil
	}
}

func statusColor(s meetings.RunStatus) string {
	switch s {
	case meetings.RunSuccess:
		return colorGreen
	case meetings.RunPartial:
		return colorYellow
	default:
		return colorRed
	}
}

// parseDay parses a YYYY-MM-DD date as UTC midnight.
func parseDay(s string) (time.Time, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, cierrors.ErrValidation)
	}
	return t, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
