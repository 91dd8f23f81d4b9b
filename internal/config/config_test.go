package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xelth-com/ocnnode/internal/ocpi"
)

func setBase(t *testing.T) {
	t.Setenv("PUBLIC_URL", "https://node.example.com/")
	t.Setenv("ADMIN_KEY", "secret")
	t.Setenv("REGISTRY_FILE", "registry.yaml")
}

func TestLoadDefaults(t *testing.T) {
	setBase(t)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://node.example.com", cfg.PublicURL)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StorePostgres, cfg.StoreDriver)
	assert.Equal(t, 5*time.Minute, cfg.Scheduler.Liveness)
	assert.Equal(t, 30*time.Second, cfg.HTTPTimeout)
	assert.Equal(t, ocpi.NewRole("CH", "OCN"), cfg.Hub.Role)
	assert.False(t, cfg.SignaturesRequired)
}

func TestLoadOverrides(t *testing.T) {
	setBase(t)
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("SIGNATURES_REQUIRED", "true")
	t.Setenv("LIVENESS_INTERVAL", "90")
	t.Setenv("DISCOVERY_INTERVAL", "2m")
	t.Setenv("WORKERS", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreMemory, cfg.StoreDriver)
	assert.True(t, cfg.SignaturesRequired)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.Liveness)
	assert.Equal(t, 2*time.Minute, cfg.Scheduler.Discovery)
	assert.Equal(t, 3, cfg.Workers)
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"no public url", map[string]string{"PUBLIC_URL": ""}},
		{"no admin key", map[string]string{"ADMIN_KEY": ""}},
		{"two registry sources", map[string]string{"REGISTRY_URL": "https://indexer"}},
		{"no registry source", map[string]string{"REGISTRY_FILE": ""}},
		{"unknown store", map[string]string{"STORE_DRIVER": "sqlite"}},
		{"bad duration", map[string]string{"HTTP_TIMEOUT": "soon"}},
		{"bad bool", map[string]string{"SIGNATURES_REQUIRED": "maybe"}},
		{"zero workers", map[string]string{"WORKERS": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setBase(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
