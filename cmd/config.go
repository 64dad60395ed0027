package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	logFormatJSON = "json"
	logFormatText = "text"

	defaultRegion = "eu-west-1"
)

type config struct {
	Port            string
	TurnDelay       time.Duration
	KeepAlive       time.Duration
	ShutdownTimeout time.Duration

	LogFormat string
	LogLevel  slog.Level

	// ParamPrefix switches API key lookup from the environment to SSM.
	ParamPrefix      string
	OpenAIKey        string
	AnthropicKey     string
	OpenAIBaseURL    string
	AnthropicBaseURL string

	BedrockRegion    string
	ArchiveTable     string
	ScriptedProvider bool
}

// loadConfig reads the process configuration. lookup is os.LookupEnv outside tests.
func loadConfig(lookup func(string) (string, bool)) (config, error) {
	env := func(key string) string {
		v, _ := lookup(key)
		return strings.TrimSpace(v)
	}

	cfg := config{
		Port:             envOr(env, "PORT", "3001"),
		LogFormat:        strings.ToLower(envOr(env, "LOG_FORMAT", logFormatJSON)),
		ParamPrefix:      env("PARAM_PREFIX"),
		OpenAIKey:        env("OPENAI_API_KEY"),
		AnthropicKey:     env("ANTHROPIC_API_KEY"),
		OpenAIBaseURL:    env("OPENAI_BASE_URL"),
		AnthropicBaseURL: env("ANTHROPIC_BASE_URL"),
		BedrockRegion:    envOr(env, "BEDROCK_REGION", envOr(env, "AWS_REGION", defaultRegion)),
		ArchiveTable:     env("ARCHIVE_TABLE"),
	}

	var err error
	if cfg.TurnDelay, err = envDuration(env, "TURN_DELAY", 2*time.Second); err != nil {
		return config{}, err
	}
	if cfg.KeepAlive, err = envDuration(env, "KEEP_ALIVE_INTERVAL", 15*time.Second); err != nil {
		return config{}, err
	}
	if cfg.ShutdownTimeout, err = envDuration(env, "SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return config{}, err
	}
	if cfg.ScriptedProvider, err = envBool(env, "SCRIPTED_PROVIDER", false); err != nil {
		return config{}, err
	}
	if cfg.LogFormat != logFormatJSON && cfg.LogFormat != logFormatText {
		return config{}, fmt.Errorf("LOG_FORMAT must be %q or %q, got %q", logFormatJSON, logFormatText, cfg.LogFormat)
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(envOr(env, "LOG_LEVEL", "info"))); err != nil {
		return config{}, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	if _, err := strconv.Atoi(cfg.Port); err != nil {
		return config{}, fmt.Errorf("PORT must be numeric, got %q", cfg.Port)
	}
	return cfg, nil
}

func envOr(env func(string) string, key, def string) string {
	if v := env(key); v != "" {
		return v
	}
	return def
}

// envDuration accepts Go durations ("1500ms") or plain milliseconds ("1500").
func envDuration(env func(string) string, key string, def time.Duration) (time.Duration, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func envBool(env func(string) string, key string, def bool) (bool, error) {
	v := env(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func mustLoadConfig() config {
	cfg, err := loadConfig(os.LookupEnv)
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	return cfg
}
