package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken              string         `yaml:"discord_token"`
	DatabasePath              string         `yaml:"database_path"`
	LogLevel                  string         `yaml:"log_level"`
	DefaultSecurityLogChannel string         `yaml:"default_security_log_channel"`
	RetentionDays             int            `yaml:"retention_days"`
	Log                       LogConfig      `yaml:"log"`
	Health                    HealthConfig   `yaml:"health"`
	AntiNuke                  AntiNukeConfig `yaml:"antinuke"`
	Notifications             NotifyConfig   `yaml:"notifications"`
}

type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type AntiNukeConfig struct {
	EnabledByDefault     bool               `yaml:"enabled_by_default"`
	RevertByDefault      bool               `yaml:"revert_by_default"`
	NotifyOwner          bool               `yaml:"notify_owner"`
	DefaultWindowSeconds int                `yaml:"default_window_seconds"`
	AuditMaxAgeSeconds   int                `yaml:"audit_max_age_seconds"`
	AuditCacheSeconds    int                `yaml:"audit_cache_seconds"`
	AuditLookupLimit     int                `yaml:"audit_lookup_limit"`
	TimeoutMinutes       int                `yaml:"timeout_minutes"`
	RevertRatePerSecond  float64            `yaml:"revert_rate_per_second"`
	RevertBurst          int                `yaml:"revert_burst"`
	SnapshotCacheSize    int                `yaml:"snapshot_cache_size"`
	TrustedUserIDs       []string           `yaml:"trusted_user_ids"`
	BlacklistedGuilds    []string           `yaml:"blacklisted_guilds"`
	Escalation           []EscalationStep   `yaml:"escalation"`
	DefaultThresholds    []ThresholdDefault `yaml:"default_thresholds"`
}

// EscalationStep is one rung of the escalation ladder. Duration only matters
// for timeouts and uses time.ParseDuration syntax.
type EscalationStep struct {
	Punishment string `yaml:"punishment"`
	Duration   string `yaml:"duration"`
}

type ThresholdDefault struct {
	Action        string `yaml:"action"`
	MaxActions    int    `yaml:"max_actions"`
	WindowSeconds int    `yaml:"window_seconds"`
	Punishment    string `yaml:"punishment"`
}

type NotifyConfig struct {
	DMOwner        bool        `yaml:"dm_owner"`
	AuditToChannel bool        `yaml:"audit_to_channel"`
	EmbedColors    EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Action  int `yaml:"action"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath:              "db/anti.db",
		LogLevel:                  "info",
		RetentionDays:             7,
		DefaultSecurityLogChannel: "",
		Log:                       LogConfig{MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 14, Compress: true},
		Health:                    HealthConfig{Enabled: false, Addr: ":8080"},
		AntiNuke: AntiNukeConfig{
			EnabledByDefault:     false,
			RevertByDefault:      true,
			NotifyOwner:          true,
			DefaultWindowSeconds: 10,
			AuditMaxAgeSeconds:   30,
			AuditCacheSeconds:    5,
			AuditLookupLimit:     5,
			TimeoutMinutes:       60,
			RevertRatePerSecond:  2,
			RevertBurst:          1,
			SnapshotCacheSize:    20000,
			Escalation: []EscalationStep{
				{Punishment: "timeout", Duration: "10m"},
				{Punishment: "timeout", Duration: "1h"},
				{Punishment: "timeout", Duration: "24h"},
				{Punishment: "kick"},
				{Punishment: "ban"},
			},
			DefaultThresholds: []ThresholdDefault{
				{Action: "chdl", MaxActions: 3, WindowSeconds: 10, Punishment: "escalation"},
				{Action: "chcr", MaxActions: 5, WindowSeconds: 10, Punishment: "escalation"},
				{Action: "chup", MaxActions: 5, WindowSeconds: 10, Punishment: "escalation"},
				{Action: "rldl", MaxActions: 3, WindowSeconds: 10, Punishment: "escalation"},
				{Action: "rlcr", MaxActions: 5, WindowSeconds: 10, Punishment: "escalation"},
				{Action: "rlup", MaxActions: 5, WindowSeconds: 10, Punishment: "escalation"},
				{Action: "ban", MaxActions: 3, WindowSeconds: 10, Punishment: "escalation"},
				{Action: "kick", MaxActions: 3, WindowSeconds: 10, Punishment: "escalation"},
				{Action: "whcr", MaxActions: 3, WindowSeconds: 10, Punishment: "escalation"},
				{Action: "botadd", MaxActions: 1, WindowSeconds: 60, Punishment: "escalation"},
				{Action: "mention", MaxActions: 3, WindowSeconds: 30, Punishment: "timeout"},
			},
		},
		Notifications: NotifyConfig{
			DMOwner:        true,
			AuditToChannel: true,
			EmbedColors: EmbedColors{
				Action:  0xF59E0B,
				Warning: 0xEF4444,
				Error:   0xF97316,
			},
		},
	}
}

func Load() (Config, error) {
	// .env never overrides variables that are already set.
	_ = godotenv.Load()

	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if err := validateEscalation(cfg.AntiNuke.Escalation); err != nil {
		return Config{}, err
	}
	if err := validateThresholds(cfg.AntiNuke.DefaultThresholds); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.DefaultSecurityLogChannel = envString("DEFAULT_SECURITY_LOG_CHANNEL", cfg.DefaultSecurityLogChannel)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Log.File = envString("LOG_FILE", cfg.Log.File)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.AntiNuke.EnabledByDefault = envBool("ANTINUKE_ENABLED_BY_DEFAULT", cfg.AntiNuke.EnabledByDefault)
	cfg.AntiNuke.RevertByDefault = envBool("ANTINUKE_REVERT_BY_DEFAULT", cfg.AntiNuke.RevertByDefault)
	cfg.AntiNuke.NotifyOwner = envBool("ANTINUKE_NOTIFY_OWNER", cfg.AntiNuke.NotifyOwner)
	cfg.AntiNuke.DefaultWindowSeconds = envInt("ANTINUKE_WINDOW_SECONDS", cfg.AntiNuke.DefaultWindowSeconds)
	cfg.AntiNuke.AuditMaxAgeSeconds = envInt("ANTINUKE_AUDIT_MAX_AGE_SECONDS", cfg.AntiNuke.AuditMaxAgeSeconds)
	cfg.AntiNuke.TimeoutMinutes = envInt("ANTINUKE_TIMEOUT_MINUTES", cfg.AntiNuke.TimeoutMinutes)
	cfg.AntiNuke.TrustedUserIDs = envList("ANTINUKE_TRUSTED_USER_IDS", cfg.AntiNuke.TrustedUserIDs)
	cfg.AntiNuke.BlacklistedGuilds = envList("ANTINUKE_BLACKLISTED_GUILDS", cfg.AntiNuke.BlacklistedGuilds)
	cfg.Notifications.DMOwner = envBool("DM_OWNER", cfg.Notifications.DMOwner)
	cfg.Notifications.AuditToChannel = envBool("AUDIT_TO_CHANNEL", cfg.Notifications.AuditToChannel)
	cfg.Notifications.EmbedColors.Action = envInt("EMBED_COLOR_ACTION", cfg.Notifications.EmbedColors.Action)
	cfg.Notifications.EmbedColors.Warning = envInt("EMBED_COLOR_WARNING", cfg.Notifications.EmbedColors.Warning)
	cfg.Notifications.EmbedColors.Error = envInt("EMBED_COLOR_ERROR", cfg.Notifications.EmbedColors.Error)
}

func validateEscalation(steps []EscalationStep) error {
	if len(steps) == 0 {
		return errors.New("antinuke.escalation needs at least one step")
	}
	for i, step := range steps {
		switch strings.ToLower(step.Punishment) {
		case "warn", "kick", "ban":
		case "timeout":
			if _, err := time.ParseDuration(step.Duration); err != nil {
				return fmt.Errorf("escalation step %d: invalid duration %q: %w", i, step.Duration, err)
			}
		default:
			return fmt.Errorf("escalation step %d: unknown punishment %q", i, step.Punishment)
		}
	}
	return nil
}

func validateThresholds(defaults []ThresholdDefault) error {
	for _, item := range defaults {
		if item.Action == "" || item.MaxActions <= 0 || item.WindowSeconds <= 0 {
			return fmt.Errorf("default threshold %q: action, max_actions and window_seconds are required", item.Action)
		}
		switch strings.ToLower(item.Punishment) {
		case "warn", "timeout", "kick", "ban", "escalation":
		default:
			return fmt.Errorf("default threshold %q: unknown punishment %q", item.Action, item.Punishment)
		}
	}
	return nil
}

// BuildLogger returns the JSON production logger. When file is set the same
// entries are also written to a size-rotated log file.
func BuildLogger(level string, file LogConfig) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	if file.File == "" {
		return cfg.Build()
	}

	rotating := zapcore.AddSync(&lumberjack.Logger{
		Filename:   file.File,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   file.Compress,
	})
	fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(cfg.EncoderConfig), rotating, cfg.Level)
	return cfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
