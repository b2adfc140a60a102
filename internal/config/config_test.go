package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var keys = []string{
	"MAPREAD_CONFIG", "PORT", "MAPREAD_API_KEY", "SCHEMA_SEARCH_PATH",
	"WORKER_COUNT", "MAX_QUEUE_SIZE", "MAX_CONCURRENT_READS",
	"MAX_UPLOAD_BYTES", "JOB_TTL",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mapread.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8090", cfg.Port)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 100, cfg.MaxQueueSize)
	assert.Equal(t, 8, cfg.MaxConcurrentReads)
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes)
	assert.Equal(t, time.Hour, cfg.JobTTL)
	assert.Empty(t, cfg.SchemaSearchPath)
	assert.Empty(t, cfg.APIKey)
}

func TestLoad_Env(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9000")
	t.Setenv("MAPREAD_API_KEY", "secret")
	t.Setenv("SCHEMA_SEARCH_PATH", "/etc/mapread"+string(os.PathListSeparator)+"/opt/schemas")
	t.Setenv("WORKER_COUNT", "2")
	t.Setenv("MAX_CONCURRENT_READS", "16")
	t.Setenv("JOB_TTL", "30m")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9000", cfg.Port)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.Equal(t, []string{"/etc/mapread", "/opt/schemas"}, cfg.SchemaSearchPath)
	assert.Equal(t, 2, cfg.WorkerCount)
	assert.Equal(t, 16, cfg.MaxConcurrentReads)
	assert.Equal(t, 30*time.Minute, cfg.JobTTL)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("WORKER_COUNT", "many")
	t.Setenv("MAX_QUEUE_SIZE", "-3")
	t.Setenv("JOB_TTL", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.WorkerCount)
	assert.Equal(t, 100, cfg.MaxQueueSize)
	assert.Equal(t, time.Hour, cfg.JobTTL)
}

func TestLoad_FileOverlay(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAPREAD_CONFIG", writeFile(t, `
port: "7000"
api_key: from-file
schema_search_path: [/srv/schemas]
worker_count: 6
job_ttl: 2h
`))
	t.Setenv("WORKER_COUNT", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "7000", cfg.Port)
	assert.Equal(t, "from-file", cfg.APIKey)
	assert.Equal(t, []string{"/srv/schemas"}, cfg.SchemaSearchPath)
	assert.Equal(t, 3, cfg.WorkerCount, "environment wins over the file")
	assert.Equal(t, 2*time.Hour, cfg.JobTTL)
	assert.Equal(t, 100, cfg.MaxQueueSize)
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("MAPREAD_CONFIG", writeFile(t, ""))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, defaults(), cfg)
}

func TestLoad_FileErrors(t *testing.T) {
	tests := map[string]string{
		"unknown key":  "workers: 3\n",
		"bad duration": "job_ttl: later\n",
		"bad yaml":     "port: [\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("MAPREAD_CONFIG", writeFile(t, body))
			_, err := Load()
			assert.Error(t, err)
		})
	}

	t.Run("missing file", func(t *testing.T) {
		clearEnv(t)
		t.Setenv("MAPREAD_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))
		_, err := Load()
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	assert.EqualError(t, cfg.Validate(), "MAPREAD_API_KEY is required")

	cfg.APIKey = "k"
	assert.NoError(t, cfg.Validate())
}
