package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolateEnv runs the test from an empty directory with the variables it inspects unset.
func isolateEnv(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	for _, key := range []string{
		"LLM_API_KEY", "LLM_API_URL", "LLM_MODEL", "LLM_TIMEOUT",
		"WORK_BASE_DIR", "WORK_OUTPUT_DIR", "WORK_MAX_FILE_SIZE",
		"LIFECYCLE_STALE_AFTER", "LIFECYCLE_SWEEP_INTERVAL",
		"TRANSLATE_TARGET_LANGUAGE", "TRANSLATE_COMBINE_THRESHOLD",
		"CACHE_PROVIDER", "CACHE_REDIS_ADDRESS", "CACHE_TTL",
		"SERVER_PORT", "JOBS_WORKERS", "STORE_PATH", "LOG_LEVEL",
	} {
		t.Setenv(key, "")
	}
}

func TestNewFromEnv_Defaults(t *testing.T) {
	isolateEnv(t)

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "./temp", cfg.Work.BaseDir)
	assert.Equal(t, "./output", cfg.Work.OutputDir)
	assert.Equal(t, int64(50*1024*1024), cfg.Work.MaxFileSize)
	assert.Equal(t, 30*time.Minute, cfg.Lifecycle.ProcessingTimeout)
	assert.Equal(t, 5*time.Minute, cfg.Lifecycle.RetentionDelay)
	assert.Equal(t, 2*time.Hour, cfg.Lifecycle.StaleAfter)
	assert.Equal(t, time.Hour, cfg.Lifecycle.SweepInterval)
	assert.Equal(t, 10, cfg.Translate.CombineThreshold)
	assert.Equal(t, 5, cfg.Translate.MaxConcurrency)
	assert.Equal(t, "memory", cfg.Cache.Provider)
	assert.Equal(t, 24*time.Hour, cfg.Cache.TTL)
	assert.Equal(t, ":8080", cfg.ServerAddr())
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, "fa", cfg.TargetTag().String())

	assert.Error(t, cfg.RequireLLM(), "the api key has no default")
}

func TestNewFromEnv_EnvironmentOverrides(t *testing.T) {
	isolateEnv(t)
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("LLM_TIMEOUT", "45s")
	t.Setenv("WORK_MAX_FILE_SIZE", "1024")
	t.Setenv("LIFECYCLE_STALE_AFTER", "3h")
	t.Setenv("CACHE_PROVIDER", "redis")
	t.Setenv("CACHE_REDIS_ADDRESS", "localhost:6379")
	t.Setenv("SERVER_PORT", "9000")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, int64(1024), cfg.Work.MaxFileSize)
	assert.Equal(t, 3*time.Hour, cfg.Lifecycle.StaleAfter)
	assert.Equal(t, "localhost:6379", cfg.Cache.Redis.Address)
	assert.Equal(t, 9000, cfg.Server.Port)
	require.NoError(t, cfg.RequireLLM())

	llmCfg := cfg.LLMClientConfig()
	assert.Equal(t, 45*time.Second, llmCfg.Timeout)
	assert.Equal(t, "test-key", llmCfg.APIKey)

	sc := cfg.SessionConfig()
	assert.Equal(t, 3*time.Hour, sc.StaleAfter)
	assert.Equal(t, int64(1024), sc.MaxFileSize)

	pc := cfg.CacheProviderConfig()
	assert.Equal(t, "localhost:6379", pc.RedisAddress)
	assert.Equal(t, "translations", pc.Group)
}

func TestLoad_ConfigFile(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "subrelay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
work:
  base_dir: /srv/subrelay/temp
lifecycle:
  retention_delay: 10m
translate:
  target_language: de
  strict_timing: true
jobs:
  workers: 2
`), 0o644))

	t.Setenv("JOBS_WORKERS", "8")

	cfg, err := Load(LoadOptions{ConfigFile: path})
	require.NoError(t, err)
	assert.Equal(t, "/srv/subrelay/temp", cfg.Work.BaseDir)
	assert.Equal(t, "./output", cfg.Work.OutputDir)
	assert.Equal(t, 10*time.Minute, cfg.Lifecycle.RetentionDelay)
	assert.Equal(t, "de", cfg.Translate.TargetLanguage)
	assert.True(t, cfg.Translate.StrictTiming)
	assert.Equal(t, 8, cfg.Jobs.Workers, "environment wins over the file")
}

func TestLoad_SearchesWorkingDirectory(t *testing.T) {
	isolateEnv(t)
	require.NoError(t, os.WriteFile("config.yaml", []byte("cache:\n  size: 42\n"), 0o644))

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 42, cfg.Cache.Size)
}

func TestLoad_EnvFile(t *testing.T) {
	isolateEnv(t)
	require.NoError(t, os.Unsetenv("TRANSLATE_COMBINE_THRESHOLD"))
	t.Cleanup(func() { _ = os.Unsetenv("TRANSLATE_COMBINE_THRESHOLD") })

	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("TRANSLATE_COMBINE_THRESHOLD=3\n"), 0o644))

	cfg, err := Load(LoadOptions{EnvFile: envFile})
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Translate.CombineThreshold)
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	isolateEnv(t)
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("work: [unterminated"), 0o644))

	_, err := Load(LoadOptions{ConfigFile: path})
	assert.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	isolateEnv(t)

	tests := []struct {
		name    string
		mutate  Option
		wantErr string
	}{
		{"bad language", WithTargetLanguage("not a language!"), "target_language"},
		{"zero size", func(c *Config) { c.Work.MaxFileSize = 0 }, "max_file_size"},
		{"zero timeout", func(c *Config) { c.Lifecycle.ProcessingTimeout = 0 }, "processing_timeout"},
		{"zero threshold", func(c *Config) { c.Translate.CombineThreshold = 0 }, "combine_threshold"},
		{"redis without address", func(c *Config) { c.Cache.Provider = "redis" }, "cache.redis.address"},
		{"no workers", func(c *Config) { c.Jobs.Workers = 0 }, "jobs.workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFromEnv(tt.mutate)
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestWithWorkDirs(t *testing.T) {
	isolateEnv(t)

	cfg, err := NewFromEnv(WithWorkDirs("/a", ""))
	require.NoError(t, err)
	assert.Equal(t, "/a", cfg.Work.BaseDir)
	assert.Equal(t, "./output", cfg.Work.OutputDir)
}
