//go:build integration

package directory

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDirectory(t *testing.T) *SQLDirectory {
	t.Helper()
	dsn := os.Getenv("CALINSIGHT_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("CALINSIGHT_TEST_DATABASE_URL not set")
	}
	d, err := OpenSQL(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, d.Ping(context.Background()))
	return d
}

func TestSQLDirectory_UpsertAndResolve(t *testing.T) {
	d := openTestDirectory(t)
	ctx := context.Background()

	n, err := d.Upsert(ctx, []OrgInfo{
		{Email: "it-ana@example.com", Division: "product", Department: "engineering", IsManager: true},
		{Email: "it-bo@example.com", Department: "sales"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	info, err := d.Resolve(ctx, "IT-Ana@example.com")
	require.NoError(t, err)
	assert.True(t, info.Known)
	assert.True(t, info.IsManager)
	assert.Equal(t, "Engineering", info.Department)

	many, err := d.ResolveMany(ctx, []string{"it-ana@example.com", "it-bo@example.com", "it-ghost@example.com"})
	require.NoError(t, err)
	assert.Len(t, many, 2)
	assert.Equal(t, "Sales", many["it-bo@example.com"].Department)

	miss, err := d.Resolve(ctx, "it-ghost@example.com")
	require.NoError(t, err)
	assert.False(t, miss.Known)
}
