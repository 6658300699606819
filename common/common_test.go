package common

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pannadata/consolidator/consolidator/filters"
	"github.com/pannadata/consolidator/consolidator/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestConfigDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := NewConfig(filepath.Join(t.TempDir(), "missing.ini"))
	require.NoError(t, err)

	paths := cfg.GetPathsConfig()
	assert.Equal(t, filepath.Join("data", "partitions"), paths.PartitionsDir)
	assert.Equal(t, filepath.Join("data", "manifest.parquet"), paths.ManifestPath)

	run := cfg.GetRunConfig()
	assert.Equal(t, "match_events", run.PrimaryCategory)
	assert.Equal(t, 0.5, run.MinRetainRatio)
	assert.Equal(t, 7*24*time.Hour, run.Freshness)
	assert.Equal(t, 1, run.Workers)
	assert.Contains(t, run.Categories, "lineups")

	assert.False(t, cfg.GetRabbitmqConfig().Enabled)
	assert.Equal(t, "INFO", cfg.GetLoggingLevel())
}

func TestConfigOverrides(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.ini", `
DATA_DIR = /srv/pannadata
CATEGORIES = player_stats, match_events
MIN_RETAIN_RATIO = 0.8
FRESHNESS_DAYS = 3
WORKERS = 4
LOGGING_LEVEL = DEBUG

[RABBITMQ]
ENABLED = true
HOST = broker

[table.lineups]
KEY = match_id,team_id,player_id
TIE_BREAK = first

[table.player_stats]
GRANULARITY = group
`)
	cfg, err := NewConfig(path)
	require.NoError(t, err)

	paths := cfg.GetPathsConfig()
	assert.Equal(t, filepath.Join("/srv/pannadata", "consolidated"), paths.ConsolidatedDir)

	run := cfg.GetRunConfig()
	assert.Equal(t, []string{"player_stats", "match_events"}, run.Categories)
	assert.Equal(t, 0.8, run.MinRetainRatio)
	assert.Equal(t, 3*24*time.Hour, run.Freshness)
	assert.Equal(t, 4, run.Workers)

	rabbit := cfg.GetRabbitmqConfig()
	assert.True(t, rabbit.Enabled)
	assert.Equal(t, "broker", rabbit.Host)
	assert.Equal(t, 5672, rabbit.Port)

	registry, err := cfg.BuildRegistry()
	require.NoError(t, err)
	lineups := registry.Lookup("lineups")
	assert.Equal(t, []string{"match_id", "team_id", "player_id"}, lineups.Key)
	assert.Equal(t, policy.KeepFirst, lineups.TieBreak)
	stats := registry.Lookup("player_stats")
	assert.Equal(t, policy.PerGroup, stats.Granularity)
	assert.Equal(t, []string{"match_id", "player_id"}, stats.Key)
}

func TestBuildRegistryRejectsBadGranularity(t *testing.T) {
	path := writeFile(t, t.TempDir(), "config.ini", "[table.shots]\nGRANULARITY = league\n")
	cfg, err := NewConfig(path)
	require.NoError(t, err)

	_, err = cfg.BuildRegistry()
	assert.Error(t, err)
}

func TestCatalogTargets(t *testing.T) {
	path := writeFile(t, t.TempDir(), "catalog.yaml", `
groups:
  La_Liga:
    2023-2024: "b"
    2024-2025: "c"
  EPL:
    2022-2023: "x"
    2023-2024: "y"
    2024-2025: "z"
`)
	catalog, err := LoadCatalog(path)
	require.NoError(t, err)

	assert.Equal(t, []filters.Target{
		{Group: "EPL", SubGroup: "2024-2025", UpstreamID: "z"},
		{Group: "La_Liga", SubGroup: "2024-2025", UpstreamID: "c"},
	}, catalog.Targets(1))
	assert.Len(t, catalog.Targets(0), 5)
}

func TestEncodeDecodeMessage(t *testing.T) {
	data, err := EncodeToByteArray(MessageTypeUnitOutcome, map[string]int{"rows": 3})
	require.NoError(t, err)
	assert.Equal(t, byte(MessageTypeUnitOutcome), data[0])

	var out map[string]int
	msgType, err := DecodeFromByteArray(data, &out)
	require.NoError(t, err)
	assert.Equal(t, byte(MessageTypeUnitOutcome), msgType)
	assert.Equal(t, 3, out["rows"])

	_, err = DecodeFromByteArray([]byte{1}, &out)
	assert.Error(t, err)
}
