package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/forwhat-rbx/clannr-sub000/internal/rank"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	DiscordToken       string
	GuildID            string
	PromotionChannelID string
	AuditChannelID     string // optional

	// Roblox
	RobloxCookie            string
	RobloxGroupID           int64
	RobloxRequestsPerSecond float64

	// Database
	DatabasePath string

	// Promotions
	RankTablePath        string
	Ranks                rank.Table
	ScanInterval         time.Duration
	EmbedRefreshInterval time.Duration
	InitMaxRetries       int
	InitRetryDelay       time.Duration
	RequestTimeout       time.Duration
	SyncNicknames        bool

	// Delete the guild's slash commands on shutdown
	RemoveCommandsOnExit bool

	// Observability
	MetricsAddr string
	LogLevel    string
}

// DefaultRanks is used when no rank table file is configured
var DefaultRanks = rank.Table{
	{Rank: 2, XP: 10},
	{Rank: 3, XP: 30},
	{Rank: 4, XP: 60},
	{Rank: 5, XP: 100},
	{Rank: 6, XP: 160},
	{Rank: 7, XP: 250},
}

// Load reads configuration from environment variables. envFile, when set,
// must exist; otherwise a .env in the working directory is loaded if present.
// rankTablePath overrides RANK_TABLE_PATH.
func Load(envFile, rankTablePath string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	} else {
		// ignore error if not found
		_ = godotenv.Load()
	}

	cfg := &Config{
		DiscordToken:       os.Getenv("DISCORD_BOT_TOKEN"),
		GuildID:            os.Getenv("DISCORD_GUILD_ID"),
		PromotionChannelID: os.Getenv("PROMOTION_CHANNEL_ID"),
		AuditChannelID:     os.Getenv("AUDIT_CHANNEL_ID"),
		RobloxCookie:       os.Getenv("ROBLOX_COOKIE"),
		DatabasePath:       getEnvOrDefault("DATABASE_PATH", "./data/bot.db"),
		RankTablePath:      getEnvOrDefault("RANK_TABLE_PATH", ""),
		MetricsAddr:        getEnvOrDefault("METRICS_ADDR", ""),
		LogLevel:           getEnvOrDefault("LOG_LEVEL", "info"),
	}
	if rankTablePath != "" {
		cfg.RankTablePath = rankTablePath
	}

	var errs []error
	parse := func(key string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
		}
	}

	var err error
	cfg.RobloxGroupID, err = strconv.ParseInt(getEnvOrDefault("ROBLOX_GROUP_ID", "0"), 10, 64)
	parse("ROBLOX_GROUP_ID", err)
	cfg.RobloxRequestsPerSecond, err = strconv.ParseFloat(getEnvOrDefault("ROBLOX_REQUESTS_PER_SECOND", "5"), 64)
	parse("ROBLOX_REQUESTS_PER_SECOND", err)
	cfg.ScanInterval, err = time.ParseDuration(getEnvOrDefault("SCAN_INTERVAL", "30m"))
	parse("SCAN_INTERVAL", err)
	cfg.EmbedRefreshInterval, err = time.ParseDuration(getEnvOrDefault("EMBED_REFRESH_INTERVAL", "5m"))
	parse("EMBED_REFRESH_INTERVAL", err)
	cfg.InitMaxRetries, err = strconv.Atoi(getEnvOrDefault("INIT_MAX_RETRIES", "5"))
	parse("INIT_MAX_RETRIES", err)
	cfg.InitRetryDelay, err = time.ParseDuration(getEnvOrDefault("INIT_RETRY_DELAY", "30s"))
	parse("INIT_RETRY_DELAY", err)
	cfg.RequestTimeout, err = time.ParseDuration(getEnvOrDefault("REQUEST_TIMEOUT", "20s"))
	parse("REQUEST_TIMEOUT", err)
	cfg.SyncNicknames, err = strconv.ParseBool(getEnvOrDefault("SYNC_NICKNAMES", "false"))
	parse("SYNC_NICKNAMES", err)
	cfg.RemoveCommandsOnExit, err = strconv.ParseBool(getEnvOrDefault("REMOVE_COMMANDS_ON_EXIT", "false"))
	parse("REMOVE_COMMANDS_ON_EXIT", err)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	// Validate required fields
	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	if cfg.GuildID == "" {
		return nil, fmt.Errorf("DISCORD_GUILD_ID is required")
	}
	if cfg.PromotionChannelID == "" {
		return nil, fmt.Errorf("PROMOTION_CHANNEL_ID is required")
	}
	if cfg.RobloxCookie == "" {
		return nil, fmt.Errorf("ROBLOX_COOKIE is required")
	}
	if cfg.RobloxGroupID <= 0 {
		return nil, fmt.Errorf("ROBLOX_GROUP_ID is required")
	}
	if cfg.ScanInterval <= 0 || cfg.EmbedRefreshInterval <= 0 {
		return nil, fmt.Errorf("SCAN_INTERVAL and EMBED_REFRESH_INTERVAL must be positive")
	}
	if cfg.InitMaxRetries < 1 {
		return nil, fmt.Errorf("INIT_MAX_RETRIES must be at least 1")
	}
	if cfg.RobloxRequestsPerSecond <= 0 {
		return nil, fmt.Errorf("ROBLOX_REQUESTS_PER_SECOND must be positive")
	}

	cfg.Ranks = DefaultRanks
	if cfg.RankTablePath != "" {
		cfg.Ranks, err = LoadRankTable(cfg.RankTablePath)
		if err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Warnings lists settings that load fine but are probably mistakes
func (c *Config) Warnings() []error {
	warnings := c.Ranks.Validate()
	if c.EmbedRefreshInterval >= c.ScanInterval {
		warnings = append(warnings, fmt.Errorf("EMBED_REFRESH_INTERVAL (%s) is not shorter than SCAN_INTERVAL (%s)", c.EmbedRefreshInterval, c.ScanInterval))
	}
	return warnings
}

type rankFile struct {
	Ranks rank.Table `yaml:"ranks"`
}

// LoadRankTable reads a YAML rank table of the form
//
//	ranks:
//	  - rank: 5
//	    xp: 40
//
// Suspicious entries are left for rank.Table.Validate to report.
func LoadRankTable(path string) (rank.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rank table: %w", err)
	}

	var f rankFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse rank table %s: %w", path, err)
	}
	if len(f.Ranks) == 0 {
		return nil, fmt.Errorf("rank table %s has no entries", path)
	}
	return f.Ranks, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
