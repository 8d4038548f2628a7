// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config holds the chaosagent configuration file model.
package config

import (
	"github.com/AleutianAI/chaosagent/services/chaosagent"
	"github.com/AleutianAI/chaosagent/services/chaosagent/enhancer"
	"github.com/AleutianAI/chaosagent/services/chaosagent/telemetry"
	"github.com/AleutianAI/chaosagent/services/chaosagent/watch"
)

// DefaultPrefix is the route prefix the agent has always been served under.
const DefaultPrefix = "/sandbox/default/module/http"

type ChaosAgentConfig struct {
	Server    ServerConfig     `yaml:"server"`
	Watch     WatchConfig      `yaml:"watch"`
	Logging   LoggingConfig    `yaml:"logging"`
	Telemetry telemetry.Config `yaml:"telemetry"`

	// Failures: extra throwable types for the throws enhancer
	Failures []FailureConfig `yaml:"failures,omitempty" validate:"dive"`
}

type ServerConfig struct {
	Host string `yaml:"host" validate:"required"`
	Port int    `yaml:"port" validate:"min=1,max=65535"`

	// Prefix is the route prefix, e.g. /sandbox/default/module/http
	Prefix   string `yaml:"prefix" validate:"required,startswith=/"`
	ModuleID string `yaml:"module_id" validate:"required,excludesall=/"`

	// GinMode is passed to gin.SetMode
	GinMode string `yaml:"gin_mode" validate:"oneof=debug release test"`
}

type WatchConfig struct {
	Workers int `yaml:"workers" validate:"min=1,max=256"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
	Dir   string `yaml:"dir,omitempty"`
	JSON  bool   `yaml:"json"`
	Quiet bool   `yaml:"quiet"`

	// Color is "", "always" or "never". Empty means colored on a terminal.
	Color string `yaml:"color,omitempty" validate:"omitempty,oneof=always never"`
}

type FailureConfig struct {
	Name               string `yaml:"name" validate:"required"`
	MessageConstructor bool   `yaml:"message_constructor"`
	NotThrowable       bool   `yaml:"not_throwable,omitempty"`
}

// FailureTypes converts the failures section for enhancer.NewCatalogue.
func (c ChaosAgentConfig) FailureTypes() []enhancer.FailureType {
	out := make([]enhancer.FailureType, 0, len(c.Failures))
	for _, f := range c.Failures {
		out = append(out, enhancer.FailureType{
			Name:               f.Name,
			MessageConstructor: f.MessageConstructor,
			NotThrowable:       f.NotThrowable,
		})
	}
	return out
}

func DefaultConfig() ChaosAgentConfig {
	tel := telemetry.DefaultConfig()
	tel.ServiceVersion = chaosagent.Version

	return ChaosAgentConfig{
		Server: ServerConfig{
			Host:     "127.0.0.1",
			Port:     8090,
			Prefix:   DefaultPrefix,
			ModuleID: chaosagent.DefaultModuleID,
			GinMode:  "release",
		},
		Watch: WatchConfig{
			Workers: watch.DefaultWorkers,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Telemetry: tel,
	}
}
