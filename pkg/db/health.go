package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus represents the health state of a database connection.
type HealthStatus struct {
	Healthy       bool          `json:"healthy"`
	Driver        string        `json:"driver"`
	Latency       time.Duration `json:"latency"`
	TotalConns    int32         `json:"total_conns,omitempty"`
	IdleConns     int32         `json:"idle_conns,omitempty"`
	AcquiredConns int32         `json:"acquired_conns,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// Pinger is satisfied by both *pgxpool.Pool and the SQLite handle wrapper.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SQLPinger adapts *sql.DB to Pinger.
type SQLPinger struct{ DB *sql.DB }

func (p SQLPinger) Ping(ctx context.Context) error { return p.DB.PingContext(ctx) }

// Check pings the database and reports latency. Pool statistics are
// included when p is a pgx pool.
func Check(ctx context.Context, driver string, p Pinger) *HealthStatus {
	status := &HealthStatus{Driver: driver}
	if p == nil {
		status.Error = "database not configured"
		return status
	}

	start := time.Now()
	err := p.Ping(ctx)
	status.Latency = time.Since(start)
	if err != nil {
		status.Error = fmt.Sprintf("ping failed: %v", err)
		return status
	}
	status.Healthy = true

	if pool, ok := p.(*pgxpool.Pool); ok {
		stats := pool.Stat()
		status.TotalConns = stats.TotalConns()
		status.IdleConns = stats.IdleConns()
		status.AcquiredConns = stats.AcquiredConns()
	}
	return status
}

// WaitForReady polls the database until it becomes available or ctx is cancelled.
func WaitForReady(ctx context.Context, p Pinger, pollInterval time.Duration) error {
	if p == nil {
		return fmt.Errorf("database not configured")
	}
	if err := p.Ping(ctx); err == nil {
		return nil
	}

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := p.Ping(ctx); err == nil {
				return nil
			}
		}
	}
}
