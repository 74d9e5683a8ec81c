package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/MimeLyc/subrelay/pkg/icron"
)

const DefaultRuntimeSettingsFile = "./config/settings.json"

// RuntimeSettings is the operator-edited overlay applied on top of the loaded config.
type RuntimeSettings struct {
	LLMAPIURL      string `json:"llm_api_url"`
	LLMAPIKey      string `json:"llm_api_key"`
	LLMModel       string `json:"llm_model"`
	SweepInterval  string `json:"sweep_interval"`
	TargetLanguage string `json:"target_language"`
}

func RuntimeSettingsFilePath() string {
	if path := strings.TrimSpace(os.Getenv("SETTINGS_FILE")); path != "" {
		return path
	}
	return DefaultRuntimeSettingsFile
}

func (s RuntimeSettings) Validate() error {
	if strings.TrimSpace(s.LLMAPIURL) == "" {
		return fmt.Errorf("llm_api_url is required")
	}
	if strings.TrimSpace(s.LLMAPIKey) == "" {
		return fmt.Errorf("llm_api_key is required")
	}
	if strings.TrimSpace(s.LLMModel) == "" {
		return fmt.Errorf("llm_model is required")
	}
	if strings.TrimSpace(s.SweepInterval) != "" {
		d, err := time.ParseDuration(s.SweepInterval)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid sweep_interval %q", s.SweepInterval)
		}
		if _, err := icron.Parse(icron.Every(d)); err != nil {
			return fmt.Errorf("invalid sweep_interval: %w", err)
		}
	}
	if strings.TrimSpace(s.TargetLanguage) == "" {
		return fmt.Errorf("target_language is required")
	}
	if _, err := language.Parse(s.TargetLanguage); err != nil {
		return fmt.Errorf("invalid target_language: %w", err)
	}
	return nil
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		LLMAPIURL:      c.LLM.APIURL,
		LLMAPIKey:      c.LLM.APIKey,
		LLMModel:       c.LLM.Model,
		SweepInterval:  c.Lifecycle.SweepInterval.String(),
		TargetLanguage: c.Translate.TargetLanguage,
	}
}

// WithRuntimeSettings overrides the non-empty fields of settings.
func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if strings.TrimSpace(settings.LLMAPIURL) != "" {
			c.LLM.APIURL = settings.LLMAPIURL
		}
		if strings.TrimSpace(settings.LLMAPIKey) != "" {
			c.LLM.APIKey = settings.LLMAPIKey
		}
		if strings.TrimSpace(settings.LLMModel) != "" {
			c.LLM.Model = settings.LLMModel
		}
		if d, err := time.ParseDuration(settings.SweepInterval); err == nil && d > 0 {
			c.Lifecycle.SweepInterval = d
		}
		if tag, err := language.Parse(settings.TargetLanguage); err == nil {
			c.Translate.TargetLanguage = tag.String()
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

// RuntimeSettingsOption loads path into an Option. A missing file yields a no-op option.
func RuntimeSettingsOption(path string) (Option, error) {
	settings, err := LoadRuntimeSettingsFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return func(*Config) {}, nil
	}
	if err != nil {
		return nil, err
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("settings file %s: %w", path, err)
	}
	return WithRuntimeSettings(settings), nil
}
