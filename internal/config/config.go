// Package config loads service settings from an optional YAML file, a .env
// file and DOCSCAN_* environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/dukerupert/docscan/internal/classify"
	"github.com/dukerupert/docscan/internal/model"
	"github.com/dukerupert/docscan/internal/quota"
)

const envPrefix = "DOCSCAN"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Store     StoreConfig     `mapstructure:"store"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Quota     QuotaConfig     `mapstructure:"quota"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Classify  classify.Policy `mapstructure:"classify"`
	Admin     AdminConfig     `mapstructure:"admin"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Snapshot  SnapshotConfig  `mapstructure:"snapshot"`
}

type ServerConfig struct {
	Port           int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" validate:"gt=0"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" validate:"gt=0"`
	IdleTimeout    time.Duration `mapstructure:"idle_timeout" validate:"gt=0"`
	MaxUploadBytes int64         `mapstructure:"max_upload_bytes" validate:"gt=0"`
	SecureCookies  bool          `mapstructure:"secure_cookies"`
	// AllowedOrigins lists extra origin hosts accepted by the admin event feed.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=text json"`
}

type StoreConfig struct {
	Driver       string `mapstructure:"driver" validate:"oneof=file sqlite"`
	AccountsPath string `mapstructure:"accounts_path" validate:"required_if=Driver file"`
	DBPath       string `mapstructure:"db_path" validate:"required"`
}

type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	FolderID    string        `mapstructure:"folder_id"`
	Model       string        `mapstructure:"model" validate:"required"`
	BaseURL     string        `mapstructure:"base_url" validate:"required,url"`
	Temperature float64       `mapstructure:"temperature" validate:"gte=0,lte=1"`
	MaxTokens   int           `mapstructure:"max_tokens" validate:"gt=0"`
	Timeout     time.Duration `mapstructure:"timeout" validate:"gt=0"`
}

type QuotaConfig struct {
	Version     string       `mapstructure:"version" validate:"required"`
	DefaultTier string       `mapstructure:"default_tier" validate:"required"`
	Timezone    string       `mapstructure:"timezone" validate:"required"`
	Tiers       []TierConfig `mapstructure:"tiers" validate:"required,min=1,dive"`
}

type TierConfig struct {
	Name       string `mapstructure:"name" validate:"required"`
	Title      string `mapstructure:"title"`
	DailyLimit int    `mapstructure:"daily_limit" validate:"gte=0"`
	Unlimited  bool   `mapstructure:"unlimited"`
	Price      int    `mapstructure:"price" validate:"gte=0"`
	AIAccess   bool   `mapstructure:"ai_access"`
}

type AnalysisConfig struct {
	MaxPromptChars int `mapstructure:"max_prompt_chars" validate:"gt=0"`
	MinTextChars   int `mapstructure:"min_text_chars" validate:"gt=0"`
}

type AdminConfig struct {
	Username     string        `mapstructure:"username"`
	PasswordHash string        `mapstructure:"password_hash"`
	SessionTTL   time.Duration `mapstructure:"session_ttl" validate:"gt=0"`
}

// Enabled reports whether admin login is possible.
func (a AdminConfig) Enabled() bool {
	return a.Username != "" && a.PasswordHash != ""
}

type RateLimitConfig struct {
	AnalyzeRequests int           `mapstructure:"analyze_requests" validate:"gt=0"`
	AnalyzeWindow   time.Duration `mapstructure:"analyze_window" validate:"gt=0"`
	LoginRequests   int           `mapstructure:"login_requests" validate:"gt=0"`
	LoginWindow     time.Duration `mapstructure:"login_window" validate:"gt=0"`
}

type SnapshotConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Endpoint   string `mapstructure:"endpoint" validate:"required_if=Enabled true"`
	Region     string `mapstructure:"region"`
	Bucket     string `mapstructure:"bucket" validate:"required_if=Enabled true"`
	Prefix     string `mapstructure:"prefix"`
	AccessKey  string `mapstructure:"access_key" validate:"required_if=Enabled true"`
	SecretKey  string `mapstructure:"secret_key" validate:"required_if=Enabled true"`
	Passphrase string `mapstructure:"passphrase" validate:"required_if=Enabled true"`
	// Interval between scheduled snapshots. Zero disables the schedule.
	Interval time.Duration `mapstructure:"interval" validate:"gte=0"`
}

// Load reads configuration. path names an optional YAML file; an empty path
// looks for docscan.yaml in the working directory. A .env file in the
// working directory is loaded into the environment first, without
// overriding variables that are already set.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Credential names used by existing deployments.
	v.BindEnv("llm.api_key", envPrefix+"_LLM_API_KEY", "YANDEX_API_KEY")
	v.BindEnv("llm.folder_id", envPrefix+"_LLM_FOLDER_ID", "YANDEX_FOLDER_ID")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("docscan")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if _, err := c.TierSet(); err != nil {
		return err
	}
	if c.Admin.Username != "" && c.Admin.PasswordHash == "" {
		return errors.New("admin.password_hash is required when admin.username is set")
	}
	return nil
}

// Location returns the time zone that defines quota days.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Quota.Timezone)
	if err != nil {
		return nil, fmt.Errorf("quota.timezone: %w", err)
	}
	return loc, nil
}

// TierSet builds the tier table.
func (c *Config) TierSet() (*quota.TierSet, error) {
	tiers := make([]model.Tier, 0, len(c.Quota.Tiers))
	for _, t := range c.Quota.Tiers {
		limit := t.DailyLimit
		if t.Unlimited {
			limit = model.Unlimited
		}
		title := t.Title
		if title == "" {
			title = t.Name
		}
		tiers = append(tiers, model.Tier{
			Name:       t.Name,
			Title:      title,
			DailyLimit: limit,
			Price:      t.Price,
			AIAccess:   t.AIAccess,
		})
	}
	ts, err := quota.NewTierSet(c.Quota.Version, tiers, c.Quota.DefaultTier)
	if err != nil {
		return nil, fmt.Errorf("quota.tiers: %w", err)
	}
	return ts, nil
}
