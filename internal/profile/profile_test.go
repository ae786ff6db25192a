package profile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var profileEnvVars = []string{
	"SHELFSCAN_EMBEDDING_PROVIDER",
	"SHELFSCAN_EMBEDDING_MODEL",
	"SHELFSCAN_EMBEDDING_BASE_URL",
	"SHELFSCAN_EMBEDDING_API_KEY",
	"SHELFSCAN_INDEX_BATCH_SIZE",
	"SHELFSCAN_INDEX_SWEEP_INTERVAL",
	"SHELFSCAN_REPLICATION_URL",
	"SHELFSCAN_REPLICATION_INTERVAL",
	"SHELFSCAN_MAX_CONCURRENT_EXTRACTIONS",
}

func clearProfileEnv(t *testing.T) {
	t.Helper()
	for _, key := range profileEnvVars {
		t.Setenv(key, "")
	}
}

func TestProfileDefaults(t *testing.T) {
	clearProfileEnv(t)

	profile := &Profile{}
	profile.FromEnv()

	assert.Equal(t, EmbeddingProviderGrid, profile.EmbeddingProvider)
	assert.Equal(t, "https://api.openai.com/v1", profile.EmbeddingBaseURL)
	assert.Equal(t, 10, profile.IndexBatchSize)
	assert.Equal(t, time.Duration(0), profile.IndexSweepInterval)
	assert.Equal(t, 30*time.Second, profile.ReplicationInterval)
	assert.Equal(t, 4, profile.MaxConcurrentExtractions)
	assert.False(t, profile.IsReplicationEnabled())
}

func TestProfileFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVar   string
		envValue string
		field    func(*Profile) any
		expected any
	}{
		{
			name:     "embedding provider",
			envVar:   "SHELFSCAN_EMBEDDING_PROVIDER",
			envValue: "openai",
			field:    func(p *Profile) any { return p.EmbeddingProvider },
			expected: "openai",
		},
		{
			name:     "embedding model",
			envVar:   "SHELFSCAN_EMBEDDING_MODEL",
			envValue: "clip-vit-l-14",
			field:    func(p *Profile) any { return p.EmbeddingModel },
			expected: "clip-vit-l-14",
		},
		{
			name:     "batch size",
			envVar:   "SHELFSCAN_INDEX_BATCH_SIZE",
			envValue: "25",
			field:    func(p *Profile) any { return p.IndexBatchSize },
			expected: 25,
		},
		{
			name:     "invalid batch size falls back",
			envVar:   "SHELFSCAN_INDEX_BATCH_SIZE",
			envValue: "many",
			field:    func(p *Profile) any { return p.IndexBatchSize },
			expected: 10,
		},
		{
			name:     "sweep interval",
			envVar:   "SHELFSCAN_INDEX_SWEEP_INTERVAL",
			envValue: "5m",
			field:    func(p *Profile) any { return p.IndexSweepInterval },
			expected: 5 * time.Minute,
		},
		{
			name:     "replication url",
			envVar:   "SHELFSCAN_REPLICATION_URL",
			envValue: "http://hub.local:8080",
			field:    func(p *Profile) any { return p.ReplicationURL },
			expected: "http://hub.local:8080",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearProfileEnv(t)
			t.Setenv(tt.envVar, tt.envValue)

			profile := &Profile{}
			profile.FromEnv()
			assert.Equal(t, tt.expected, tt.field(profile))
		})
	}
}

func TestProfileValidate(t *testing.T) {
	t.Run("sqlite dsn defaults into data dir", func(t *testing.T) {
		dir := t.TempDir()
		profile := &Profile{Mode: "dev", Data: dir, Driver: "sqlite"}
		require.NoError(t, profile.Validate())
		assert.Contains(t, profile.DSN, "shelfscan_dev.db")
		assert.Equal(t, EmbeddingProviderGrid, profile.EmbeddingProvider)
		assert.Equal(t, 10, profile.IndexBatchSize)
	})

	t.Run("unknown mode becomes demo", func(t *testing.T) {
		profile := &Profile{Mode: "staging", Data: t.TempDir()}
		require.NoError(t, profile.Validate())
		assert.Equal(t, "demo", profile.Mode)
		assert.Equal(t, "sqlite", profile.Driver)
	})

	t.Run("postgres requires dsn", func(t *testing.T) {
		profile := &Profile{Mode: "dev", Data: t.TempDir(), Driver: "postgres"}
		assert.Error(t, profile.Validate())
	})

	t.Run("unsupported driver", func(t *testing.T) {
		profile := &Profile{Mode: "dev", Data: t.TempDir(), Driver: "mysql"}
		assert.Error(t, profile.Validate())
	})

	t.Run("openai provider requires model", func(t *testing.T) {
		profile := &Profile{Mode: "dev", Data: t.TempDir(), EmbeddingProvider: EmbeddingProviderOpenAI}
		assert.Error(t, profile.Validate())
	})

	t.Run("missing data dir", func(t *testing.T) {
		profile := &Profile{Mode: "dev", Data: "/nonexistent/shelfscan-data"}
		assert.Error(t, profile.Validate())
	})
}
