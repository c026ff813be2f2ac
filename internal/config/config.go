// Package config loads GCC's runtime configuration from the environment,
// following the env(key, def)/required() style used by
// apps/ReleaseParty/backend/internal/config in the reference pack.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type OllamaConfig struct {
	Host            string
	Model           string
	Temperature     float64
	ContextWindow   int
	Timeout         time.Duration
	FastPathEnabled bool
	FastPathHost    string
	FastPathModel   string
}

type Config struct {
	GCCBasePath    string
	SkillsPath     string
	AgentName      string
	LogLevel       string
	CommandTimeout time.Duration
	ProbeTimeout   time.Duration
	Ollama         OllamaConfig
	TraceEndpoint  string
}

// Load reads configuration from the environment, applying the defaults
// spec.md §6 implies and validating the required fields.
func Load() (Config, error) {
	base := env("GCC_BASE_PATH", filepath.Join(os.Getenv("HOME"), ".gcc"))
	if strings.TrimSpace(base) == "" {
		return Config{}, fmt.Errorf("GCC_BASE_PATH required")
	}

	cmdTimeout, err := envDuration("GCC_COMMAND_TIMEOUT_SECONDS", 120*time.Second)
	if err != nil {
		return Config{}, err
	}
	probeTimeout, err := envDuration("GCC_PROBE_TIMEOUT_SECONDS", 5*time.Second)
	if err != nil {
		return Config{}, err
	}
	ollamaTimeout, err := envDuration("GCC_OLLAMA_TIMEOUT_SECONDS", 60*time.Second)
	if err != nil {
		return Config{}, err
	}
	temp, err := envFloat("GCC_OLLAMA_TEMPERATURE", 0.2)
	if err != nil {
		return Config{}, err
	}
	ctxWindow, err := envInt("GCC_OLLAMA_CONTEXT", 8192)
	if err != nil {
		return Config{}, err
	}
	fastEnabled, err := envBool("GCC_FAST_PATH_ENABLED", false)
	if err != nil {
		return Config{}, err
	}

	return Config{
		GCCBasePath:    base,
		SkillsPath:     env("SKILLS_PATH", filepath.Join(base, "skills")),
		AgentName:      env("AGENT_NAME", "gcc"),
		LogLevel:       env("LOG_LEVEL", "INFO"),
		CommandTimeout: cmdTimeout,
		ProbeTimeout:   probeTimeout,
		Ollama: OllamaConfig{
			Host:            env("GCC_OLLAMA_HOST", "http://localhost:11434"),
			Model:           env("GCC_OLLAMA_MODEL", "llama3.1"),
			Temperature:     temp,
			ContextWindow:   ctxWindow,
			Timeout:         ollamaTimeout,
			FastPathEnabled: fastEnabled,
			FastPathHost:    env("GCC_FAST_PATH_HOST", env("GCC_OLLAMA_HOST", "http://localhost:11434")),
			FastPathModel:   env("GCC_FAST_PATH_MODEL", "llama3.1:8b"),
		},
		TraceEndpoint: env("GCC_TRACE_ENDPOINT", ""),
	}, nil
}

func env(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer seconds %q: %w", key, v, err)
	}
	return time.Duration(secs) * time.Second, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid float %q: %w", key, v, err)
	}
	return f, nil
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid int %q: %w", key, v, err)
	}
	return i, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: invalid bool %q: %w", key, v, err)
	}
	return b, nil
}
