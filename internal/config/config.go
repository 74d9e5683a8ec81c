package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"golang.org/x/text/language"

	"github.com/MimeLyc/subrelay/internal/cache"
	"github.com/MimeLyc/subrelay/internal/llm"
	"github.com/MimeLyc/subrelay/internal/session"
	"github.com/MimeLyc/subrelay/pkg/log"
)

// Config holds all application configuration.
//
// Values come from, in increasing priority: defaults, an optional config.yaml
// (current directory or ./config), an optional .env file and the environment.
// Environment names are the upper-cased keys with "." replaced by "_":
//
//   - LLM_API_KEY, LLM_API_URL, LLM_MODEL, LLM_TIMEOUT (Go duration)
//   - WORK_BASE_DIR, WORK_OUTPUT_DIR, WORK_MAX_FILE_SIZE (bytes)
//   - LIFECYCLE_PROCESSING_TIMEOUT, LIFECYCLE_RETENTION_DELAY, LIFECYCLE_STALE_AFTER, LIFECYCLE_SWEEP_INTERVAL
//   - TRANSLATE_TARGET_LANGUAGE, TRANSLATE_COMBINE_THRESHOLD, TRANSLATE_MAX_CONCURRENCY
//   - CACHE_PROVIDER (memory, redis), CACHE_SIZE, CACHE_TTL, CACHE_REDIS_ADDRESS
//   - SERVER_PORT, METRICS_PORT, JOBS_WORKERS, STORE_PATH, LOG_LEVEL
type Config struct {
	Work      WorkConfig      `mapstructure:"work"`
	Lifecycle LifecycleConfig `mapstructure:"lifecycle"`
	Translate TranslateConfig `mapstructure:"translate"`
	Cache     CacheConfig     `mapstructure:"cache"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Jobs      JobsConfig      `mapstructure:"jobs"`
	Store     StoreConfig     `mapstructure:"store"`

	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`
}

type WorkConfig struct {
	BaseDir     string `mapstructure:"base_dir"`
	OutputDir   string `mapstructure:"output_dir"`
	MaxFileSize int64  `mapstructure:"max_file_size"`
}

type LifecycleConfig struct {
	ProcessingTimeout time.Duration `mapstructure:"processing_timeout"`
	RetentionDelay    time.Duration `mapstructure:"retention_delay"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
}

type TranslateConfig struct {
	TargetLanguage   string `mapstructure:"target_language"`
	CombineThreshold int    `mapstructure:"combine_threshold"`
	MaxConcurrency   int    `mapstructure:"max_concurrency"`
	// StrictTiming rejects files with overlapping or empty-duration entries.
	StrictTiming bool `mapstructure:"strict_timing"`
}

type CacheConfig struct {
	Provider string        `mapstructure:"provider"`
	Size     int           `mapstructure:"size"`
	TTL      time.Duration `mapstructure:"ttl"`
	Redis    RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// LLMConfig holds the configuration for the LLM client.
// Supports any OpenAI-compatible provider (OpenRouter, OpenAI, a local gateway).
type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	APIURL      string        `mapstructure:"api_url"`
	Model       string        `mapstructure:"model"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	SiteURL     string        `mapstructure:"site_url"`
	AppName     string        `mapstructure:"app_name"`
	MaxRetries  int           `mapstructure:"max_retries"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

type ServerConfig struct {
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
}

type JobsConfig struct {
	Workers int `mapstructure:"workers"`
	MaxJobs int `mapstructure:"max_jobs"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"`
	// RunRetention prunes run history older than this at startup. Zero keeps everything.
	RunRetention time.Duration `mapstructure:"run_retention"`
}

var defaults = map[string]any{
	"work.base_dir":      "./temp",
	"work.output_dir":    "./output",
	"work.max_file_size": int64(50 * 1024 * 1024),

	"lifecycle.processing_timeout": "30m",
	"lifecycle.retention_delay":    "5m",
	"lifecycle.stale_after":        "2h",
	"lifecycle.sweep_interval":     "1h",

	"translate.target_language":   "fa",
	"translate.combine_threshold": 10,
	"translate.max_concurrency":   5,
	"translate.strict_timing":     false,

	"cache.provider":       "memory",
	"cache.size":           10000,
	"cache.ttl":            "24h",
	"cache.redis.address":  "",
	"cache.redis.password": "",
	"cache.redis.db":       0,
	"cache.redis.prefix":   "",

	"llm.api_key":     "",
	"llm.api_url":     "https://openrouter.ai/api/v1",
	"llm.model":       "openai/gpt-4o-mini",
	"llm.max_tokens":  8000,
	"llm.temperature": 0.3,
	"llm.timeout":     "2m",
	"llm.site_url":    "",
	"llm.app_name":    "subrelay",
	"llm.max_retries": 2,
	"llm.retry_delay": "2s",

	"server.address": "",
	"server.port":    8080,

	"metrics.enabled": true,
	"metrics.address": "",
	"metrics.port":    9090,

	"jobs.workers":  4,
	"jobs.max_jobs": 1000,

	"store.path":          "./data/runs.db",
	"store.run_retention": "720h",

	"log_level": "info",
	"log_file":  "",
}

// Option is a function type for configuring Config
type Option func(*Config)

// LoadOptions picks where Load looks for files.
type LoadOptions struct {
	// ConfigFile is an explicit YAML file. Empty searches config.yaml in . and ./config.
	ConfigFile string
	// EnvFile defaults to ".env". A missing file is ignored.
	EnvFile string
}

// NewFromEnv loads configuration from the default locations.
func NewFromEnv(opts ...Option) (*Config, error) {
	return Load(LoadOptions{}, opts...)
}

func Load(lo LoadOptions, opts ...Option) (*Config, error) {
	envFile := lo.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if lo.ConfigFile != "" {
		v.SetConfigFile(lo.ConfigFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info("Config: target=%s cache=%s work=%s output=%s workers=%d",
		cfg.Translate.TargetLanguage, cfg.Cache.Provider, cfg.Work.BaseDir, cfg.Work.OutputDir, cfg.Jobs.Workers)
	return &cfg, nil
}

// Validate checks everything that does not depend on the command being run.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.Work.BaseDir) == "" || strings.TrimSpace(c.Work.OutputDir) == "" {
		errs = append(errs, fmt.Errorf("work.base_dir and work.output_dir are required"))
	}
	if c.Work.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("work.max_file_size must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"lifecycle.processing_timeout": c.Lifecycle.ProcessingTimeout,
		"lifecycle.retention_delay":    c.Lifecycle.RetentionDelay,
		"lifecycle.stale_after":        c.Lifecycle.StaleAfter,
		"lifecycle.sweep_interval":     c.Lifecycle.SweepInterval,
		"cache.ttl":                    c.Cache.TTL,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if _, err := language.Parse(c.Translate.TargetLanguage); err != nil {
		errs = append(errs, fmt.Errorf("invalid translate.target_language %q: %w", c.Translate.TargetLanguage, err))
	}
	if c.Translate.CombineThreshold <= 0 || c.Translate.MaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("translate.combine_threshold and translate.max_concurrency must be positive"))
	}
	if c.Cache.Size <= 0 {
		errs = append(errs, fmt.Errorf("cache.size must be positive"))
	}
	if c.Cache.Provider == "redis" && c.Cache.Redis.Address == "" {
		errs = append(errs, fmt.Errorf("cache.redis.address is required for the redis provider"))
	}
	if c.Jobs.Workers <= 0 {
		errs = append(errs, fmt.Errorf("jobs.workers must be positive"))
	}
	return errors.Join(errs...)
}

// RequireLLM checks the settings only commands that call the backend need.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM_API_KEY is required")
	}
	cfg := c.LLMClientConfig()
	return cfg.Validate()
}

func (c *Config) SessionConfig() session.Config {
	return session.Config{
		BaseDir:           c.Work.BaseDir,
		OutputDir:         c.Work.OutputDir,
		MaxFileSize:       c.Work.MaxFileSize,
		ProcessingTimeout: c.Lifecycle.ProcessingTimeout,
		RetentionDelay:    c.Lifecycle.RetentionDelay,
		StaleAfter:        c.Lifecycle.StaleAfter,
		SweepInterval:     c.Lifecycle.SweepInterval,
	}
}

func (c *Config) CacheProviderConfig() cache.ProviderConfig {
	return cache.ProviderConfig{
		Size:          c.Cache.Size,
		TTL:           c.Cache.TTL,
		RedisAddress:  c.Cache.Redis.Address,
		RedisPassword: c.Cache.Redis.Password,
		RedisDB:       c.Cache.Redis.DB,
		RedisPrefix:   c.Cache.Redis.Prefix,
		Group:         "translations",
	}
}

func (c *Config) LLMClientConfig() llm.Config {
	return llm.Config{
		APIKey:      c.LLM.APIKey,
		APIURL:      c.LLM.APIURL,
		Model:       c.LLM.Model,
		MaxTokens:   c.LLM.MaxTokens,
		Temperature: c.LLM.Temperature,
		Timeout:     c.LLM.Timeout,
		SiteURL:     c.LLM.SiteURL,
		AppName:     c.LLM.AppName,
		MaxRetries:  c.LLM.MaxRetries,
		RetryDelay:  c.LLM.RetryDelay,
	}
}

// TargetTag is the parsed target language. Validate guarantees it parses.
func (c *Config) TargetTag() language.Tag {
	tag, err := language.Parse(c.Translate.TargetLanguage)
	if err != nil {
		return language.Und
	}
	return tag
}

func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}

func WithWorkDirs(baseDir, outputDir string) Option {
	return func(c *Config) {
		if baseDir != "" {
			c.Work.BaseDir = baseDir
		}
		if outputDir != "" {
			c.Work.OutputDir = outputDir
		}
	}
}

func WithTargetLanguage(lang string) Option {
	return func(c *Config) {
		if lang != "" {
			c.Translate.TargetLanguage = lang
		}
	}
}
