package cmd

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/calinsight/config"
	cierrors "github.com/otherjamesbrown/calinsight/pkg/errors"
)

// TestDbCommand tests the parent db command structure.
func TestDbCommand(t *testing.T) {
	cmd := NewDbCommand(DefaultDeps())

	assert.NotNil(t, cmd, "NewDbCommand() should not return nil")
	assert.Equal(t, "db", cmd.Use, "db command Use should be 'db'")
	assert.NotEmpty(t, cmd.Short, "db command should have Short description")
	assert.NotEmpty(t, cmd.Long, "db command should have Long description")

	found := map[string]bool{}
	for _, sub := range cmd.Commands() {
		found[sub.Name()] = true
	}
	for _, name := range []string{"migrate", "status", "cleanup", "seed"} {
		assert.True(t, found[name], "db command should have %q subcommand", name)
	}
}

// TestDbMigrateCommand_Flags verifies the migrate subcommand has expected flags.
func TestDbMigrateCommand_Flags(t *testing.T) {
	cmd := NewDbCommand(DefaultDeps())

	migrateCmd, _, err := cmd.Find([]string{"migrate"})
	require.NoError(t, err, "should find migrate subcommand")

	dryRunFlag := migrateCmd.Flags().Lookup("dry-run")
	require.NotNil(t, dryRunFlag, "migrate command should have --dry-run flag")
	assert.Equal(t, "bool", dryRunFlag.Value.Type(), "--dry-run should be a boolean flag")

	targetFlag := migrateCmd.Flags().Lookup("target")
	require.NotNil(t, targetFlag, "migrate command should have --target flag")
	assert.Equal(t, "t", targetFlag.Shorthand)
}

func TestDbMigrate_DryRunThenApply(t *testing.T) {
	deps := newTestDeps(t, "http://unused")
	deps.Config.OutputFormat = config.OutputFormatText

	out, err := execute(t, NewDbCommand(deps), "", "migrate", "--dry-run")
	require.NoError(t, err)
	assert.Contains(t, out, "Pending migrations (3):")
	assert.Contains(t, out, "Dry run mode")

	out, err = execute(t, NewDbCommand(deps), "n\n", "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Migration cancelled.")

	out, err = execute(t, NewDbCommand(deps), "", "migrate", "--yes")
	require.NoError(t, err)
	assert.Contains(t, out, "Successfully applied 3 migration(s)")

	out, err = execute(t, NewDbCommand(deps), "", "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "No pending migrations.")
}

func TestDbMigrate_ConfirmYes(t *testing.T) {
	deps := newTestDeps(t, "http://unused")

	out, err := execute(t, NewDbCommand(deps), "y\n", "migrate", "--target", "001")
	require.NoError(t, err)
	assert.Contains(t, out, "Applying migrations up to version 001")

	out, err = execute(t, NewDbCommand(deps), "", "status")
	require.NoError(t, err)
	var report struct {
		Migrations struct {
			Applied []json.RawMessage `json:"applied"`
			Pending []json.RawMessage `json:"pending"`
		} `json:"migrations"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Len(t, report.Migrations.Applied, 1)
	assert.Len(t, report.Migrations.Pending, 2)
}

func TestDbStatus_AfterSync(t *testing.T) {
	srv := newFeedServer(t, icsFeed(10), 0)
	deps := newTestDeps(t, srv.URL)

	_, err := execute(t, NewSyncCommand(deps), "", "--days", "30")
	require.NoError(t, err)

	out, err := execute(t, NewDbCommand(deps), "", "status")
	require.NoError(t, err)
	var report struct {
		Health struct {
			Healthy bool `json:"healthy"`
		} `json:"health"`
		Migrations struct {
			Applied []json.RawMessage `json:"applied"`
		} `json:"migrations"`
		Meetings int64 `json:"meetings"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Len(t, report.Migrations.Applied, 3)
	assert.EqualValues(t, 10, report.Meetings)
}

func TestDbCleanup(t *testing.T) {
	srv := newFeedServer(t, icsFeed(45), 0)
	deps := newTestDeps(t, srv.URL)

	_, err := execute(t, NewSyncCommand(deps), "", "--days", "30")
	require.NoError(t, err)

	out, err := execute(t, NewDbCommand(deps), "", "cleanup", "--older-than-days", "20")
	require.NoError(t, err)
	assert.Contains(t, out, "Cleanup cancelled.", "empty input declines")

	out, err = execute(t, NewDbCommand(deps), "", "cleanup", "--older-than-days", "20", "--yes")
	require.NoError(t, err)
	var res struct {
		Deleted int64 `json:"deleted"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &res), out)
	// Cutoff is 2024-05-12 12:00: nine full days plus the morning event.
	assert.EqualValues(t, 19, res.Deleted)

	_, err = execute(t, NewDbCommand(deps), "", "cleanup", "--older-than-days", "-1", "--yes")
	assert.True(t, cierrors.IsValidation(err), "got %v", err)
}

type seedOutput struct {
	ClearedMeetings int64 `json:"cleared_meetings"`
	ClearedUsers    int64 `json:"cleared_users"`
	UsersWritten    int   `json:"users_written"`
	Meetings        struct {
		Inserted  int `json:"inserted"`
		Updated   int `json:"updated"`
		Unchanged int `json:"unchanged"`
	} `json:"meetings"`
	Stats struct {
		Users       int    `json:"users"`
		Departments int    `json:"departments"`
		Meetings    int64  `json:"meetings"`
		First       string `json:"first_meeting"`
		Last        string `json:"last_meeting"`
	} `json:"stats"`
}

func decodeSeed(t *testing.T, out string) seedOutput {
	t.Helper()
	var res seedOutput
	require.NoError(t, json.Unmarshal([]byte(out), &res), "output: %s", out)
	return res
}

func TestDbSeed(t *testing.T) {
	deps := newTestDeps(t, "http://unused")
	deps.Config.Sync.BatchSize = 7
	args := []string{"seed", "--users", "10", "--days", "7", "--meetings-per-day", "5"}

	out, err := execute(t, NewDbCommand(deps), "", "seed", "--stats-only")
	require.NoError(t, err)
	res := decodeSeed(t, out)
	assert.Zero(t, res.Stats.Users)
	assert.Zero(t, res.Stats.Meetings)
	assert.Empty(t, res.Stats.First)

	out, err = execute(t, NewDbCommand(deps), "", args...)
	require.NoError(t, err)
	res = decodeSeed(t, out)
	assert.Equal(t, 10, res.UsersWritten)
	assert.Equal(t, 10, res.Stats.Users)
	assert.Positive(t, res.Stats.Departments)
	// Five weekdays of five meetings, plus at most one meeting on each weekend day.
	seeded := res.Meetings.Inserted
	assert.GreaterOrEqual(t, seeded, 25)
	assert.LessOrEqual(t, seeded, 27)
	assert.EqualValues(t, seeded, res.Stats.Meetings)
	assert.GreaterOrEqual(t, res.Stats.First, "2024-05-25")
	assert.Less(t, res.Stats.Last, "2024-06-01")

	out, err = execute(t, NewDbCommand(deps), "", args...)
	require.NoError(t, err)
	res = decodeSeed(t, out)
	assert.Zero(t, res.Meetings.Inserted, "the same seed rewrites the same rows")
	assert.Equal(t, seeded, res.Meetings.Unchanged)
	assert.EqualValues(t, seeded, res.Stats.Meetings)

	out, err = execute(t, NewStatsCommand(deps), "")
	require.NoError(t, err)
	var report struct {
		Overview struct {
			TotalMeetings int `json:"total_meetings"`
		} `json:"overview"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report), out)
	assert.Equal(t, seeded, report.Overview.TotalMeetings)
}

func TestDbSeed_Clear(t *testing.T) {
	deps := newTestDeps(t, "http://unused")
	args := []string{"seed", "--users", "5", "--days", "3", "--meetings-per-day", "4"}

	out, err := execute(t, NewDbCommand(deps), "", args...)
	require.NoError(t, err)
	seeded := decodeSeed(t, out).Stats.Meetings

	out, err = execute(t, NewDbCommand(deps), "n\n", append(args, "--clear", "--seed", "2")...)
	require.NoError(t, err)
	assert.Contains(t, out, "Seed cancelled.")

	out, err = execute(t, NewDbCommand(deps), "", append(args, "--clear", "--seed", "2", "--yes")...)
	require.NoError(t, err)
	res := decodeSeed(t, out)
	assert.Equal(t, seeded, res.ClearedMeetings)
	assert.EqualValues(t, 5, res.ClearedUsers)
	assert.Equal(t, 5, res.Stats.Users, "only the new users remain")
	assert.EqualValues(t, res.Meetings.Inserted, res.Stats.Meetings)
}

func TestDbSeed_TextAndValidation(t *testing.T) {
	deps := newTestDeps(t, "http://unused")
	deps.Config.OutputFormat = config.OutputFormatText

	out, err := execute(t, NewDbCommand(deps), "", "seed", "--users", "4", "--days", "2", "--meetings-per-day", "3")
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 4 user(s)")
	assert.Contains(t, out, "Database statistics:")
	assert.Contains(t, out, "Users:        4")

	for _, args := range [][]string{
		{"seed", "--users", "1"},
		{"seed", "--days", "0"},
		{"seed", "--meetings-per-day", "0"},
	} {
		_, err := execute(t, NewDbCommand(deps), "", args...)
		assert.True(t, cierrors.IsValidation(err), "%v: got %v", args, err)
	}
}
