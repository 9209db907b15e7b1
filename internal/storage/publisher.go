// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package storage publishes device state snapshots to redis.
package storage

import (
	"context"
	"fmt"

	"github.com/Thermoquad/tecstat/internal/config"
	"github.com/Thermoquad/tecstat/pkg/controller"
	"github.com/Thermoquad/tecstat/pkg/tec"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const queueSize = 64

// Publisher sends every state change to a redis channel and keeps a bounded
// history list per instance. It implements controller.Observer; snapshots
// are queued and written by Run so the receive path never waits on redis.
type Publisher struct {
	client     redis.UniversalClient
	channel    string
	keyPrefix  string
	historyLen int64
	log        logrus.FieldLogger

	queue chan tec.DeviceState
}

var _ controller.Observer = (*Publisher)(nil)

// NewPublisher connects to redis and verifies the connection
func NewPublisher(ctx context.Context, cfg config.RedisConfig, log logrus.FieldLogger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	log.WithField("addr", cfg.Addr).Info("connected to redis")
	return newPublisher(client, cfg, log), nil
}

func newPublisher(client redis.UniversalClient, cfg config.RedisConfig, log logrus.FieldLogger) *Publisher {
	return &Publisher{
		client:     client,
		channel:    cfg.Channel,
		keyPrefix:  cfg.KeyPrefix,
		historyLen: cfg.HistoryLen,
		log:        log,
		queue:      make(chan tec.DeviceState, queueSize),
	}
}

// HistoryKey returns the list key holding the history of instance
func (p *Publisher) HistoryKey(instance uint8) string {
	return fmt.Sprintf("%s:%d:history", p.keyPrefix, instance)
}

// Publish writes one snapshot to the channel and the history list
func (p *Publisher) Publish(ctx context.Context, s tec.DeviceState) error {
	data, err := EncodeState(s)
	if err != nil {
		return err
	}

	key := p.HistoryKey(s.Instance)
	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Publish(ctx, p.channel, data)
		if p.historyLen > 0 {
			pipe.LPush(ctx, key, data)
			pipe.LTrim(ctx, key, 0, p.historyLen-1)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to publish state: %w", err)
	}
	return nil
}

// History returns up to n snapshots of instance, newest first
func (p *Publisher) History(ctx context.Context, instance uint8, n int64) ([]tec.DeviceState, error) {
	if n <= 0 {
		return nil, nil
	}
	raw, err := p.client.LRange(ctx, p.HistoryKey(instance), 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}

	states := make([]tec.DeviceState, 0, len(raw))
	for _, item := range raw {
		s, err := DecodeState([]byte(item))
		if err != nil {
			p.log.WithError(err).Warn("skipping undecodable history entry")
			continue
		}
		states = append(states, s)
	}
	return states, nil
}

// Run drains the snapshot queue until ctx ends
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-p.queue:
			if err := p.Publish(ctx, s); err != nil {
				p.log.WithError(err).WithField("instance", s.Instance).Warn("state not published")
			}
		}
	}
}

// Close releases the redis connection
func (p *Publisher) Close() error {
	return p.client.Close()
}

// FrameSent implements controller.Observer
func (p *Publisher) FrameSent(tec.Command, string) {}

// ReplyReceived implements controller.Observer
func (p *Publisher) ReplyReceived(*tec.Reply, *tec.Command, error) {}

// StateChanged queues s for publishing. Snapshots are dropped while the
// queue is full.
func (p *Publisher) StateChanged(s tec.DeviceState) {
	select {
	case p.queue <- s:
	default:
		p.log.WithField("instance", s.Instance).Debug("publish queue full, dropping snapshot")
	}
}
