// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// Global is a singleton instance
	Global ChaosAgentConfig
	once   sync.Once

	validate = validator.New()
)

// ErrInvalidConfig wraps validation and environment override failures.
var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultPath returns ~/.chaosagent/chaosagent.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".chaosagent", "chaosagent.yaml"), nil
}

// Load ensures the config is loaded into the Global variable. An empty path
// means DefaultPath.
func Load(path string) error {
	var err error
	once.Do(func() {
		if path == "" {
			if path, err = DefaultPath(); err != nil {
				return
			}
		}
		Global, err = LoadFile(path)
	})
	return err
}

// LoadFile reads path, creating it with defaults on first run, then applies
// environment overrides and validates the result.
func LoadFile(path string) (ChaosAgentConfig, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, " First run detected, creating the config at %s\n", path)
		if err := createDefault(path); err != nil {
			return ChaosAgentConfig{}, err
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ChaosAgentConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	return Parse(data, os.Getenv)
}

// Parse decodes YAML over DefaultConfig, so missing keys keep their
// defaults, then applies overrides from getenv and validates.
func Parse(data []byte, getenv func(string) string) (ChaosAgentConfig, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ChaosAgentConfig{}, fmt.Errorf("failed to parse the config: %w", err)
	}
	if err := ApplyEnv(&cfg, getenv); err != nil {
		return ChaosAgentConfig{}, err
	}
	if err := Validate(cfg); err != nil {
		return ChaosAgentConfig{}, err
	}
	return cfg, nil
}

// ApplyEnv overrides cfg from the environment.
//
//	CHAOSAGENT_HOST, CHAOSAGENT_PORT, CHAOSAGENT_PREFIX, CHAOSAGENT_WORKERS,
//	CHAOSAGENT_LOG_LEVEL, CHAOSAGENT_LOG_DIR, CHAOSAGENT_ENV,
//	OTEL_TRACES_EXPORTER, OTEL_METRICS_EXPORTER, OTEL_EXPORTER_OTLP_ENDPOINT
func ApplyEnv(cfg *ChaosAgentConfig, getenv func(string) string) error {
	if getenv == nil {
		getenv = os.Getenv
	}

	setString := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) error {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, key, v)
		}
		*dst = n
		return nil
	}

	setString("CHAOSAGENT_HOST", &cfg.Server.Host)
	setString("CHAOSAGENT_PREFIX", &cfg.Server.Prefix)
	if err := setInt("CHAOSAGENT_PORT", &cfg.Server.Port); err != nil {
		return err
	}
	if err := setInt("CHAOSAGENT_WORKERS", &cfg.Watch.Workers); err != nil {
		return err
	}
	setString("CHAOSAGENT_LOG_LEVEL", &cfg.Logging.Level)
	setString("CHAOSAGENT_LOG_DIR", &cfg.Logging.Dir)
	setString("CHAOSAGENT_ENV", &cfg.Telemetry.Environment)
	setString("OTEL_TRACES_EXPORTER", &cfg.Telemetry.TraceExporter)
	setString("OTEL_METRICS_EXPORTER", &cfg.Telemetry.MetricExporter)
	setString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.OTLPEndpoint)
	return nil
}

// Validate checks the struct tags.
func Validate(cfg ChaosAgentConfig) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Marshal renders cfg as YAML.
func Marshal(cfg ChaosAgentConfig) ([]byte, error) {
	return yaml.Marshal(cfg)
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
