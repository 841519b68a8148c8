// Package config loads the bot configuration: credentials and tunables
// from environment variables, channel definitions and category profiles
// from a yaml file. Loading happens once at startup; any missing or
// invalid required setting is a fatal error.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vucciaro/dealsbot/internal/models"
	"github.com/vucciaro/dealsbot/internal/validator"
)

// Store backend names accepted in STORE_BACKEND.
const (
	BackendMemory    = "memory"
	BackendSQLite    = "sqlite"
	BackendFirestore = "firestore"
)

// Channel describes one Telegram channel the bot posts to.
type Channel struct {
	ID                  string          `yaml:"id" validate:"required"`
	Name                string          `yaml:"name"`
	Category            models.Category `yaml:"category" validate:"required,oneof=tech moda"`
	CategoryNodes       []int           `yaml:"category_nodes" validate:"required,min=1,dive,gt=0"`
	Emoji               []string        `yaml:"emoji"`
	PostIntervalMinutes int             `yaml:"post_interval_minutes" validate:"gte=0"`
}

// PostInterval returns the channel's posting interval, falling back to
// the process-wide default when the yaml does not override it.
func (c Channel) PostInterval(fallback time.Duration) time.Duration {
	if c.PostIntervalMinutes > 0 {
		return time.Duration(c.PostIntervalMinutes) * time.Minute
	}
	return fallback
}

type Config struct {
	TelegramBotToken string `validate:"required"`
	KeepaAPIKey      string `validate:"required"`
	AmazonTag        string `validate:"required"`
	Port             string

	StoreBackend string `validate:"oneof=memory sqlite firestore"`
	SQLitePath   string
	ProjectID    string

	TickInterval     time.Duration `validate:"gt=0"`
	PostInterval     time.Duration `validate:"gt=0"`
	CacheTTL         time.Duration `validate:"gt=0"`
	DedupTTL         time.Duration `validate:"gt=0"`
	ActiveHoursStart int           `validate:"gte=0,lte=23"`
	ActiveHoursEnd   int           `validate:"gte=1,lte=24"`

	Channels []Channel                                  `validate:"required,min=1,dive"`
	Profiles map[models.Category]models.CategoryProfile `validate:"required,dive"`
}

// channelsFile is the on-disk shape of the channels config.
type channelsFile struct {
	Channels []Channel                                  `yaml:"channels"`
	Profiles map[models.Category]models.CategoryProfile `yaml:"profiles"`
}

func Load() (*Config, error) {
	cfg := &Config{
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		KeepaAPIKey:      os.Getenv("KEEPA_API_KEY"),
		AmazonTag:        envOr("AMAZON_TAG", "vucciaro-21"),
		Port:             envOr("PORT", "8080"),
		StoreBackend:     envOr("STORE_BACKEND", BackendSQLite),
		SQLitePath:       envOr("SQLITE_PATH", "vucciaro.db"),
		ProjectID:        os.Getenv("GOOGLE_CLOUD_PROJECT"),
	}

	if cfg.TelegramBotToken == "" {
		return nil, fmt.Errorf("TELEGRAM_BOT_TOKEN environment variable is required but not set")
	}
	if cfg.KeepaAPIKey == "" {
		return nil, fmt.Errorf("KEEPA_API_KEY environment variable is required but not set")
	}
	if cfg.StoreBackend == BackendFirestore && cfg.ProjectID == "" {
		return nil, fmt.Errorf("GOOGLE_CLOUD_PROJECT is required when STORE_BACKEND is firestore")
	}

	var err error
	if cfg.TickInterval, err = durationEnv("TICK_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.PostInterval, err = durationEnv("POST_INTERVAL", 20*time.Minute); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = durationEnv("CACHE_TTL", 6*time.Hour); err != nil {
		return nil, err
	}
	if cfg.DedupTTL, err = durationEnv("DEDUP_TTL", 48*time.Hour); err != nil {
		return nil, err
	}
	if cfg.ActiveHoursStart, err = intEnv("ACTIVE_HOURS_START", 7); err != nil {
		return nil, err
	}
	if cfg.ActiveHoursEnd, err = intEnv("ACTIVE_HOURS_END", 23); err != nil {
		return nil, err
	}
	if cfg.ActiveHoursStart >= cfg.ActiveHoursEnd {
		return nil, fmt.Errorf("active hours window [%d,%d) is empty", cfg.ActiveHoursStart, cfg.ActiveHoursEnd)
	}

	channelsPath := envOr("CHANNELS_CONFIG_PATH", "config/channels.yaml")
	if err := cfg.loadChannels(channelsPath); err != nil {
		return nil, err
	}

	if err := validator.New().ValidateStruct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	// Every channel category must have a filter profile; the scheduler
	// must never run with an incomplete profile set.
	for _, ch := range cfg.Channels {
		if _, ok := cfg.Profiles[ch.Category]; !ok {
			return nil, fmt.Errorf("channel %s: no category profile defined for %q", ch.ID, ch.Category)
		}
	}

	slog.Info("Configuration loaded",
		"channels", len(cfg.Channels),
		"store", cfg.StoreBackend,
		"post_interval", cfg.PostInterval,
		"active_hours", fmt.Sprintf("%02d:00-%02d:00", cfg.ActiveHoursStart, cfg.ActiveHoursEnd))
	return cfg, nil
}

func (c *Config) loadChannels(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading channels config %s: %w", path, err)
	}

	var file channelsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing channels config %s: %w", path, err)
	}

	// Sub-5 euro items are never worth posting; apply the floor when a
	// profile leaves it unset.
	for cat, profile := range file.Profiles {
		if profile.MinPrice == 0 {
			profile.MinPrice = 5
			file.Profiles[cat] = profile
		}
	}

	c.Channels = file.Channels
	c.Profiles = file.Profiles
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return d, nil
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
	}
	return n, nil
}
