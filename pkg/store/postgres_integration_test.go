//go:build integration

package store

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/calinsight/config"
	"github.com/otherjamesbrown/calinsight/pkg/meetings"
)

func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("CALINSIGHT_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("CALINSIGHT_TEST_DATABASE_URL not set")
	}
	s, err := OpenAndMigrate(context.Background(), config.DatabaseConfig{Driver: config.DriverPostgres, URL: url, MaxConns: 2})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s.(*PostgresStore)
}

func TestPostgres_UpsertIdempotent(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	user := "it-" + uuid.NewString()[:8] + "@example.com"

	res, err := s.UpsertBatch(ctx, testBatch(45, user))
	require.NoError(t, err)
	assert.Equal(t, meetings.UpsertResult{Inserted: 45}, res)

	res, err = s.UpsertBatch(ctx, testBatch(45, user))
	require.NoError(t, err)
	assert.Equal(t, meetings.UpsertResult{Unchanged: 45}, res)

	edited := testBatch(45, user)
	edited[10].Summary = "Renamed"
	res, err = s.UpsertBatch(ctx, edited)
	require.NoError(t, err)
	assert.Equal(t, meetings.UpsertResult{Updated: 1, Unchanged: 44}, res)

	latest, ok, err := s.LatestStart(ctx, user)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, testMeeting(44, user).StartTime.Equal(latest))

	list, err := s.List(ctx, meetings.Filter{Users: []string{user}})
	require.NoError(t, err)
	assert.Len(t, list, 45)
}

func TestPostgres_FailedBatchRollsBack(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()
	user := "it-" + uuid.NewString()[:8] + "@example.com"

	batch := testBatch(5, user)
	batch[3].AttendeesDeclined = 4
	_, err := s.UpsertBatch(ctx, batch)
	require.Error(t, err)

	list, err := s.List(ctx, meetings.Filter{Users: []string{user}})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPostgres_Runs(t *testing.T) {
	s := newPostgresStore(t)
	ctx := context.Background()

	run := &meetings.SyncRun{RunID: uuid.NewString(), UserEmail: "it@example.com", Mode: "full",
		WindowStart: day0, WindowEnd: day0.AddDate(0, 1, 0), StartedAt: day0, FinishedAt: day0,
		Status: meetings.RunSuccess}
	require.NoError(t, s.RecordRun(ctx, run))

	runs, err := s.ListRuns(ctx, 100)
	require.NoError(t, err)
	found := false
	for _, r := range runs {
		if r.RunID == run.RunID {
			found = true
		}
	}
	assert.True(t, found)
}
