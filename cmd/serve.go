// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/tecstat/internal/monitor"
	"github.com/Thermoquad/tecstat/internal/storage"
	"github.com/Thermoquad/tecstat/pkg/controller"
	"github.com/Thermoquad/tecstat/pkg/tec"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	serveListen string
	serveRedis  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the device and export its state",
	Long: `Refresh the device state on a fixed interval and export it.

Exports:
  - Prometheus metrics and a /health endpoint (metrics.enabled or --listen)
  - CBOR state snapshots published to redis (redis.enabled or --redis)

The command exits with an error when the connection is lost so that a
supervisor can restart it. SIGINT and SIGTERM stop it cleanly.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Metrics listen address (enables metrics)")
	serveCmd.Flags().BoolVar(&serveRedis, "redis", false, "Publish state snapshots to redis")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if serveListen != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = serveListen
	}
	if serveRedis {
		cfg.Redis.Enabled = true
	}

	var (
		observers []controller.Option
		mon       *monitor.Monitor
		pub       *storage.Publisher
	)

	if cfg.Metrics.Enabled {
		// three missed refresh cycles mark the link stale
		mon = monitor.New(log, 3*cfg.Controller.RefreshInterval)
		observers = append(observers, controller.WithObserver(mon))
	}
	if cfg.Redis.Enabled {
		var err error
		pub, err = storage.NewPublisher(ctx, cfg.Redis, log)
		if err != nil {
			return err
		}
		defer pub.Close()
		observers = append(observers, controller.WithObserver(pub))
	}

	session, err := OpenSession(observers...)
	if err != nil {
		return err
	}
	defer session.Close()

	var wg sync.WaitGroup
	workCtx, cancelWork := context.WithCancel(ctx)
	defer func() {
		cancelWork()
		wg.Wait()
	}()

	if mon != nil {
		if err := mon.RegisterControllerMetrics(session.Controller.Metrics()); err != nil {
			return fmt.Errorf("register metrics: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mon.Serve(workCtx, cfg.Metrics.Listen); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("metrics server stopped")
			}
		}()
	}
	if pub != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = pub.Run(workCtx)
		}()
	}

	log.WithFields(logrus.Fields{
		"connection": session.Info,
		"instance":   cfg.Instance(),
		"interval":   cfg.Controller.RefreshInterval,
	}).Info("serving")

	ticker := time.NewTicker(cfg.Controller.RefreshInterval)
	defer ticker.Stop()

	for {
		serveRefresh(ctx, session.Controller, mon)

		select {
		case <-ctx.Done():
			log.Info("shutting down")
			return nil
		case <-session.Done():
			if err := session.Err(); err != nil {
				return fmt.Errorf("connection lost: %w", err)
			}
			return errors.New("connection lost")
		case <-ticker.C:
		}
	}
}

// serveRefresh runs one refresh cycle and records its anomalies
func serveRefresh(ctx context.Context, ctrl *controller.Controller, mon *monitor.Monitor) {
	rctx, cancel := commandContext(ctx)
	defer cancel()

	inst := cfg.Instance()
	state, err := ctrl.Refresh(rctx, inst)
	if err != nil && ctx.Err() != nil {
		return // shutting down
	}
	recordRefresh(inst, state, err, mon)
}

// recordRefresh validates a refreshed state and records its anomalies.
// A device or protocol error on one read leaves the other fields fresh, so
// only an aborted cycle skips validation. Reports whether it validated.
func recordRefresh(inst uint8, state tec.DeviceState, err error, mon *monitor.Monitor) bool {
	if err != nil {
		if refreshAborted(err) {
			log.WithError(err).WithField("instance", inst).Warn("refresh aborted")
			return false
		}
		log.WithError(err).WithField("instance", inst).Warn("refresh incomplete")
	}

	anomalies := tec.ValidateState(state)
	if mon != nil {
		mon.RecordAnomalies(inst, anomalies)
		return true
	}
	for _, a := range anomalies {
		log.WithField("instance", inst).Warn(a.Message)
	}
	return true
}

// refreshAborted reports whether err stopped the cycle early rather than
// failing a single read
func refreshAborted(err error) bool {
	var tErr *tec.TransportError
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, controller.ErrClosed) ||
		errors.Is(err, controller.ErrCommandPending) ||
		errors.As(err, &tErr)
}
