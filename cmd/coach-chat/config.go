package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// appConfig is the resolved terminal-client configuration. Precedence:
// defaults < config file < environment < flags.
type appConfig struct {
	AgentURL   string  `yaml:"agent_url"`
	BackendURL string  `yaml:"backend_url"`
	UserEmail  string  `yaml:"user_email"`
	Source     string  `yaml:"source"`
	Gain       float64 `yaml:"gain"`
	Volume     int     `yaml:"volume"`
	NoMic      bool    `yaml:"no_mic"`
	NoSpeaker  bool    `yaml:"no_speaker"`
}

func defaultConfig() appConfig {
	return appConfig{
		AgentURL:   "http://localhost:8080",
		BackendURL: "http://localhost:8081",
		Source:     "cli",
		Gain:       1.0,
		Volume:     80,
	}
}

func loadConfigFile(cfg *appConfig, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *appConfig, getenv func(string) string) error {
	if v := strings.TrimSpace(getenv("COACH_AGENT_URL")); v != "" {
		cfg.AgentURL = v
	}
	if v := strings.TrimSpace(getenv("COACH_BACKEND_URL")); v != "" {
		cfg.BackendURL = v
	}
	if v := strings.TrimSpace(getenv("COACH_USER_EMAIL")); v != "" {
		cfg.UserEmail = v
	}
	if v := strings.TrimSpace(getenv("COACH_SOURCE")); v != "" {
		cfg.Source = v
	}
	if v := strings.TrimSpace(getenv("COACH_GAIN")); v != "" {
		gain, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("COACH_GAIN: %w", err)
		}
		cfg.Gain = gain
	}
	return nil
}

func (c appConfig) validate() error {
	if strings.TrimSpace(c.UserEmail) == "" {
		return fmt.Errorf("user email is required (set --email, COACH_USER_EMAIL, or user_email in the config file)")
	}
	if strings.TrimSpace(c.AgentURL) == "" {
		return fmt.Errorf("agent URL is required")
	}
	if strings.TrimSpace(c.BackendURL) == "" {
		return fmt.Errorf("backend URL is required")
	}
	if c.Gain < 0 {
		return fmt.Errorf("gain must not be negative")
	}
	return nil
}
