package config

import (
	"os"
	"path/filepath"
	"testing"

	"erpsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const minimalConfig = `
app:
  name: erpsync
database:
  path: /tmp/erpsync-test/sync.db
rules_path: /tmp/erpsync-test/rules.yaml
`

func TestLoad_AppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, models.DefaultStaleThresholdHours, cfg.Sync.StaleThresholdHours)
	assert.Equal(t, models.DefaultSummaryThreshold, cfg.Sync.SummaryThreshold)
	assert.Equal(t, models.DefaultStatusCacheTTLSeconds, cfg.Sync.StatusCacheTTLSeconds)
	assert.Equal(t, models.DefaultLockTTLSeconds, cfg.Sync.LockTTLSeconds)
	assert.Equal(t, models.DefaultPollIntervalSeconds, cfg.Sync.PollIntervalSeconds)
	assert.Equal(t, models.DefaultWorkerBatchSize, cfg.Sync.BatchSize)
}

func TestLoad_ExpandsEnvironmentPlaceholders(t *testing.T) {
	t.Setenv("TEST_SYNC_DB_PATH", "/data/from-env.db")
	t.Setenv("TEST_SYNC_REDIS_ADDR", "redis.internal:6379")

	cfg, err := Load(writeConfig(t, `
database:
  path: ${TEST_SYNC_DB_PATH}
redis:
  address: ${TEST_SYNC_REDIS_ADDR}
rules_path: configs/rules.yaml
`))
	require.NoError(t, err)

	assert.Equal(t, "/data/from-env.db", cfg.Database.Path)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Address)
}

func TestLoad_EnabledAPIForcesAuthAndPort(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
api:
  enabled: true
`))
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.API.Port)
	assert.True(t, cfg.API.Auth.Enabled)
	assert.Equal(t, "x-api-key", cfg.API.Auth.HeaderAPIKey)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate_RejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "missing database path",
			content: "rules_path: r.yaml\n",
			wantErr: "database path is required",
		},
		{
			name: "missing rules path",
			content: `
database:
  path: /tmp/x.db
`,
			wantErr: "rules_path is required",
		},
		{
			name: "unknown store backend",
			content: minimalConfig + `
store:
  backend: dynamo
`,
			wantErr: "unknown store backend",
		},
		{
			name: "sheets backend without credentials",
			content: minimalConfig + `
store:
  backend: sheets
`,
			wantErr: "requires credentials_file and spreadsheet_id",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoad_ExplicitSyncValuesSurviveDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig+`
sync:
  stale_threshold_hours: 6
  status_cache_ttl_seconds: 30
`))
	require.NoError(t, err)

	assert.Equal(t, 6, cfg.Sync.StaleThresholdHours)
	assert.Equal(t, 30, cfg.Sync.StatusCacheTTLSeconds)
}
