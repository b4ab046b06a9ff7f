package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"storage": {"driver": "sqlite", "path": "missions.db"}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, 1000, cfg.Monitor.PollIntervalMS, "defaults should fill omitted sections")
	assert.Equal(t, 5, cfg.Monitor.MaxRetries)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"unknown driver", `{"storage": {"driver": "etcd"}}`},
		{"sqlite without path", `{"storage": {"driver": "sqlite"}}`},
		{"postgres without dsn", `{"storage": {"driver": "postgres"}}`},
		{"zero interval", `{"monitor": {"poll_interval_ms": 0, "timeout_seconds": 300, "max_retries": 5, "query_timeout_ms": 5000, "record_ttl_minutes": 15}}`},
		{"negative retries", `{"monitor": {"poll_interval_ms": 1000, "timeout_seconds": 300, "max_retries": -1, "query_timeout_ms": 5000, "record_ttl_minutes": 15}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	assert.Error(t, err)
}
