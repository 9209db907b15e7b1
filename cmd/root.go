// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"io"
	"time"

	"github.com/Thermoquad/tecstat/internal/config"
	"github.com/Thermoquad/tecstat/internal/logging"
	"github.com/Thermoquad/tecstat/pkg/tec"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configPath string

	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Controller flags
	instanceFlag    int
	responseTimeout time.Duration
	logLevel        string
)

// Resolved by the root pre-run hook
var (
	cfg       *config.Config
	log       *logrus.Logger
	logCloser io.Closer
	registry  *tec.Registry
)

var rootCmd = &cobra.Command{
	Use:   "tecstat",
	Short: "Thermoelectric Controller Protocol Tool",
	Long: `tecstat - A CLI tool for driving and monitoring thermoelectric controllers
over their ASCII parameter protocol.

Provides commands for reading and writing parameters, refreshing device state,
passive frame logging, frame statistics and an interactive control interface.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 57600]
  WebSocket: --url ws://host/path [--username user]

Settings may also come from a YAML file given with --config; flags win over
file values.

For WebSocket authentication, the password is read from the TECSTAT_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.`,
	Version:           "1.0.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")

	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 57600, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Controller flags
	rootCmd.PersistentFlags().IntVarP(&instanceFlag, "instance", "i", 1, "Controller instance (1-99)")
	rootCmd.PersistentFlags().DurationVar(&responseTimeout, "timeout", time.Second, "Response timeout per command (0 waits forever)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
}

// setup loads the configuration, applies flag overrides and builds the
// logger and parameter registry
func setup(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
	} else {
		cfg = config.Default()
	}

	flags := cmd.Flags()
	if flags.Changed("port") || cfg.Serial.Port == "" {
		cfg.Serial.Port = portName
	}
	if flags.Changed("baud") || configPath == "" {
		cfg.Serial.Baud = baudRate
	}
	if flags.Changed("url") || cfg.WebSocket.URL == "" {
		cfg.WebSocket.URL = wsURL
	}
	if flags.Changed("username") {
		cfg.WebSocket.Username = wsUsername
	}
	if flags.Changed("no-ssl-verify") {
		cfg.WebSocket.NoSSLVerify = wsNoSSLVerify
	}
	if flags.Changed("instance") {
		cfg.Controller.Instance = instanceFlag
	}
	if flags.Changed("timeout") {
		cfg.Controller.ResponseTimeout = responseTimeout
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	log, logCloser, err = logging.New(cfg.Log)
	if err != nil {
		return err
	}

	registry, err = cfg.Registry()
	if err != nil {
		return fmt.Errorf("invalid parameter table: %w", err)
	}

	log.WithFields(logrus.Fields{
		"instance": cfg.Controller.Instance,
		"timeout":  cfg.Controller.ResponseTimeout,
	}).Debug("configuration loaded")
	return nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
