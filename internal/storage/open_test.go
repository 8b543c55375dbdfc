package storage

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivf-outcome-server/internal/domain"
)

func TestOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "open.db")
	st, err := Open(domain.StorageConfig{Driver: "sqlite", SQLitePath: path}, domain.DatabaseConfig{}, "")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.NoError(t, st.Close())

	st, err = Open(domain.StorageConfig{Driver: "none"}, domain.DatabaseConfig{}, "")
	assert.NoError(t, err)
	assert.Nil(t, st)

	_, err = Open(domain.StorageConfig{Driver: "sqlite"}, domain.DatabaseConfig{}, "")
	assert.ErrorContains(t, err, "sqlite_path")

	_, err = Open(domain.StorageConfig{Driver: "mongo"}, domain.DatabaseConfig{}, "")
	assert.ErrorContains(t, err, "unknown storage driver")
}
