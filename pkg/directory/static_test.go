package directory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/calinsight/pkg/logging"
)

const sampleFile = `
users:
  - email: Ana@Example.com
    division: product
    department: engineering
    subdepartment: platform
    manager: true
  - email: bo@example.com
    division: Go To Market
    department: Sales
domains:
  contractors.example.com:
    division: External
    department: Contractors
`

func TestParseFile(t *testing.T) {
	f, err := ParseFile([]byte(sampleFile))
	require.NoError(t, err)
	assert.Len(t, f.Users, 2)
	assert.Contains(t, f.Domains, "contractors.example.com")
}

func TestParseFile_Errors(t *testing.T) {
	_, err := ParseFile([]byte("users: [ {division: x} ]"))
	assert.ErrorContains(t, err, "no email")

	_, err = ParseFile([]byte("users: {"))
	assert.Error(t, err)
}

func TestStaticDirectory_Resolve(t *testing.T) {
	f, err := ParseFile([]byte(sampleFile))
	require.NoError(t, err)
	d := NewStatic(f)
	ctx := context.Background()

	t.Run("exact match", func(t *testing.T) {
		info, err := d.Resolve(ctx, "ANA@example.com")
		require.NoError(t, err)
		assert.True(t, info.Known)
		assert.True(t, info.IsManager)
		assert.Equal(t, "Product", info.Division)
		assert.Equal(t, "Engineering", info.Department)
		assert.Equal(t, "Platform", info.Subdepartment)
	})

	t.Run("missing subdepartment", func(t *testing.T) {
		info, err := d.Resolve(ctx, "bo@example.com")
		require.NoError(t, err)
		assert.Equal(t, "Sales", info.Department)
		assert.Equal(t, Unknown, info.Subdepartment)
		assert.False(t, info.IsManager)
	})

	t.Run("domain default", func(t *testing.T) {
		info, err := d.Resolve(ctx, "temp@contractors.example.com")
		require.NoError(t, err)
		assert.True(t, info.Known)
		assert.Equal(t, "temp@contractors.example.com", info.Email)
		assert.Equal(t, "Contractors", info.Department)
	})

	t.Run("miss", func(t *testing.T) {
		info, err := d.Resolve(ctx, "ghost@elsewhere.com")
		require.NoError(t, err)
		assert.False(t, info.Known)
		assert.Equal(t, Unknown, info.Department)
	})

	assert.Equal(t, 2, d.Len())
	assert.Len(t, d.Entries(), 2)
}

func TestLoadStatic_MissingFile(t *testing.T) {
	_, err := LoadStatic(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestStaticDirectory_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "directory.yaml")
	require.NoError(t, os.WriteFile(path, []byte("users:\n  - email: ana@example.com\n    department: Sales\n"), 0600))

	d, err := LoadStatic(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, d.Watch(ctx, logging.NewNopLogger()))

	require.NoError(t, os.WriteFile(path, []byte("users:\n  - email: ana@example.com\n    department: Marketing\n"), 0600))

	assert.Eventually(t, func() bool {
		info, _ := d.Resolve(ctx, "ana@example.com")
		return info.Department == "Marketing"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestStaticDirectory_WatchWithoutFile(t *testing.T) {
	d := NewStatic(File{})
	assert.Error(t, d.Watch(context.Background(), logging.NewNopLogger()))
}
