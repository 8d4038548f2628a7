// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/AleutianAI/chaosagent/cmd/chaosagent/config"
	"github.com/AleutianAI/chaosagent/services/chaosagent"
)

// --- Global Command Variables ---
var (
	configPath string

	// serve overrides; zero values leave the config file untouched
	listenPort int
	logLevel   string
	ginMode    string
	demo       bool
	demoRate   float64
)

var (
	rootCmd = &cobra.Command{
		Use:   "chaosagent",
		Short: "In-process fault injection agent",
		Long: `chaosagent intercepts method calls inside a running Go program and
injects delays, errors, forged return values and protocol-aware faults,
driven by create/destroy/status/list commands over HTTP.`,
		SilenceUsage: true,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start the command API",
		RunE:  runServe,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the agent version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "chaosagent %s (%s %s/%s)\n",
				chaosagent.Version, runtime.Version(), runtime.GOOS, runtime.GOARCH)
		},
	}

	configCmd = &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(configPath); err != nil {
				return err
			}
			data, err := config.Marshal(config.Global)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to the config file (default ~/.chaosagent/chaosagent.yaml)")

	rootCmd.AddCommand(serveCmd)
	bindServeFlags(serveCmd.Flags())

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

func bindServeFlags(fs *pflag.FlagSet) {
	fs.IntVarP(&listenPort, "port", "p", 0, "Port to listen on (overrides server.port)")
	fs.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides logging.level)")
	fs.StringVar(&ginMode, "gin-mode", "", "Gin mode: debug, release, test (overrides server.gin_mode)")
	fs.BoolVar(&demo, "demo", false, "Drive the in-process host with a synthetic workload")
	fs.Float64Var(&demoRate, "demo-rate", 5, "Demo calls per second")
}

// applyServeFlags copies the flags the user set onto cfg.
func applyServeFlags(fs *pflag.FlagSet, cfg *config.ChaosAgentConfig) error {
	if fs.Changed("port") {
		cfg.Server.Port = listenPort
	}
	if fs.Changed("log-level") {
		cfg.Logging.Level = logLevel
	}
	if fs.Changed("gin-mode") {
		cfg.Server.GinMode = ginMode
	}
	return config.Validate(*cfg)
}
