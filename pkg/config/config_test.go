package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, "memory", cfg.Blob.Backend)
	assert.Equal(t, int64(8<<20), cfg.Blob.ChunkSize)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tracker.yaml")
	data := `
listen: ":9090"
database:
  type: postgres
  dsn: "host=db user=tracker dbname=tracker"
blob:
  backend: minio
  endpoint: "minio:9000"
  accessKey: tracker
  secretKey: secret
  chunkSize: 1048576
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "postgres", cfg.Database.Type)
	assert.Equal(t, "minio", cfg.Blob.Backend)
	assert.Equal(t, "minio:9000", cfg.Blob.Endpoint)
	assert.Equal(t, int64(1048576), cfg.Blob.ChunkSize)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("TRACKER_LISTEN", ":7070")
	t.Setenv("TRACKER_DATABASE_TYPE", "mysql")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Listen)
	assert.Equal(t, "mysql", cfg.Database.Type)
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Run("unknown database type", func(t *testing.T) {
		t.Setenv("TRACKER_DATABASE_TYPE", "oracle")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("minio without endpoint", func(t *testing.T) {
		t.Setenv("TRACKER_BLOB_BACKEND", "minio")
		_, err := Load("")
		assert.Error(t, err)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})
}
