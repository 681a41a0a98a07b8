package tecs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTunablesValid(t *testing.T) {
	require.NoError(t, DefaultTunables().Validate())
}

func TestTunablesValidateBitWidths(t *testing.T) {
	tu := DefaultTunables()
	tu.EntityIndexBits = 40
	tu.EntityGenerationBits = 24
	err := tu.Validate()
	require.Error(t, err)
}

func TestLoadTunablesFromJSONC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tunables.jsonc")
	contents := `{
  // trims retry spinning for fast tests
  "spinlock_retry_yield": 3,
  "entity_allocation_batch_size": 16,
}`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	tu, err := LoadTunables(path)
	require.NoError(t, err)
	assert.Equal(t, 3, tu.SpinlockRetryYield)
	assert.Equal(t, uint32(16), tu.EntityAllocationBatchSize)
	// Unspecified fields keep their default.
	assert.Equal(t, 10000, tu.PerformanceTracingMaxEvents)
}

func TestLoadTunablesMissingFile(t *testing.T) {
	_, err := LoadTunables(filepath.Join(t.TempDir(), "missing.jsonc"))
	require.Error(t, err)
}
