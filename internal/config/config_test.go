package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forwhat-rbx/clannr-sub000/internal/rank"
)

var requiredEnv = map[string]string{
	"DISCORD_BOT_TOKEN":    "token",
	"DISCORD_GUILD_ID":     "111",
	"PROMOTION_CHANNEL_ID": "222",
	"ROBLOX_COOKIE":        "cookie",
	"ROBLOX_GROUP_ID":      "4242",
}

func setRequired(t *testing.T) {
	t.Helper()
	for k, v := range requiredEnv {
		t.Setenv(k, v)
	}
}

// unsetenv removes key for the duration of the test
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	require.NoError(t, os.Unsetenv(key))
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load("", "")
	require.NoError(t, err)

	assert.Equal(t, int64(4242), cfg.RobloxGroupID)
	assert.Equal(t, "./data/bot.db", cfg.DatabasePath)
	assert.Equal(t, 30*time.Minute, cfg.ScanInterval)
	assert.Equal(t, 5*time.Minute, cfg.EmbedRefreshInterval)
	assert.Equal(t, 5, cfg.InitMaxRetries)
	assert.Equal(t, 30*time.Second, cfg.InitRetryDelay)
	assert.Equal(t, 20*time.Second, cfg.RequestTimeout)
	assert.Equal(t, 5.0, cfg.RobloxRequestsPerSecond)
	assert.False(t, cfg.SyncNicknames)
	assert.False(t, cfg.RemoveCommandsOnExit)
	assert.Equal(t, DefaultRanks, cfg.Ranks)
	assert.Empty(t, DefaultRanks.Validate())
	assert.Greater(t, cfg.ScanInterval, cfg.EmbedRefreshInterval)
	assert.Empty(t, cfg.Warnings())
}

func TestWarningsRefreshNotShorterThanScan(t *testing.T) {
	setRequired(t)
	t.Setenv("SCAN_INTERVAL", "5m")
	t.Setenv("EMBED_REFRESH_INTERVAL", "10m")

	cfg, err := Load("", "")
	require.NoError(t, err)
	warnings := cfg.Warnings()
	require.Len(t, warnings, 1)
	assert.ErrorContains(t, warnings[0], "EMBED_REFRESH_INTERVAL")
}

func TestLoadOverrides(t *testing.T) {
	setRequired(t)
	t.Setenv("SCAN_INTERVAL", "1h")
	t.Setenv("INIT_MAX_RETRIES", "2")
	t.Setenv("SYNC_NICKNAMES", "true")
	t.Setenv("REMOVE_COMMANDS_ON_EXIT", "1")
	t.Setenv("ROBLOX_REQUESTS_PER_SECOND", "2.5")

	cfg, err := Load("", "")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cfg.ScanInterval)
	assert.Equal(t, 2, cfg.InitMaxRetries)
	assert.True(t, cfg.SyncNicknames)
	assert.True(t, cfg.RemoveCommandsOnExit)
	assert.Equal(t, 2.5, cfg.RobloxRequestsPerSecond)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "missing token", key: "DISCORD_BOT_TOKEN", val: ""},
		{name: "missing group", key: "ROBLOX_GROUP_ID", val: ""},
		{name: "bad group", key: "ROBLOX_GROUP_ID", val: "abc"},
		{name: "bad interval", key: "SCAN_INTERVAL", val: "often"},
		{name: "zero retries", key: "INIT_MAX_RETRIES", val: "0"},
		{name: "bad bool", key: "SYNC_NICKNAMES", val: "sometimes"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.val)

			_, err := Load("", "")
			assert.ErrorContains(t, err, tt.key)
		})
	}
}

func TestLoadEnvFile(t *testing.T) {
	for k := range requiredEnv {
		unsetenv(t, k)
	}
	unsetenv(t, "AUDIT_CHANNEL_ID")

	path := writeFile(t, "bot.env", `DISCORD_BOT_TOKEN=file-token
DISCORD_GUILD_ID=1
PROMOTION_CHANNEL_ID=2
AUDIT_CHANNEL_ID=3
ROBLOX_COOKIE=c
ROBLOX_GROUP_ID=99
`)

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "file-token", cfg.DiscordToken)
	assert.Equal(t, "3", cfg.AuditChannelID)
	assert.Equal(t, int64(99), cfg.RobloxGroupID)

	_, err = Load(filepath.Join(t.TempDir(), "missing.env"), "")
	assert.Error(t, err)
}

func TestLoadRankTable(t *testing.T) {
	path := writeFile(t, "ranks.yaml", `ranks:
  - rank: 10
    xp: 100
  - rank: 5
    xp: 40
`)

	setRequired(t)
	cfg, err := Load("", path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.RankTablePath)
	assert.Equal(t, rank.Table{{Rank: 10, XP: 100}, {Rank: 5, XP: 40}}, cfg.Ranks)

	t.Setenv("RANK_TABLE_PATH", path)
	cfg, err = Load("", "")
	require.NoError(t, err)
	assert.Len(t, cfg.Ranks, 2)
}

func TestLoadRankTableErrors(t *testing.T) {
	_, err := LoadRankTable(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)

	_, err = LoadRankTable(writeFile(t, "empty.yaml", "ranks: []\n"))
	assert.ErrorContains(t, err, "no entries")

	_, err = LoadRankTable(writeFile(t, "bad.yaml", "ranks: [oops\n"))
	assert.ErrorContains(t, err, "failed to parse")

	// suspicious but loadable
	table, err := LoadRankTable(writeFile(t, "odd.yaml", "ranks:\n  - {rank: 10, xp: 40}\n  - {rank: 5, xp: 100}\n"))
	require.NoError(t, err)
	assert.Len(t, table.Validate(), 1)
}
