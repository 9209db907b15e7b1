// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Thermoquad/tecstat/pkg/controller"
	"github.com/Thermoquad/tecstat/pkg/tec"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for controlling a thermoelectric controller",
	Long: `Control one controller instance via an interactive terminal UI.

Features:
  - Periodic refresh of status, object, sink and target temperature
  - Output enable toggle
  - Target temperature entry
  - Auto reset with a delay in seconds
  - Reply statistics and event log
  - Automatic reconnection on connection loss

Keys: o=toggle output, Tab=switch field, Enter=send field, r=refresh, q=quit.

Supports both serial and WebSocket connections.`,
	Args: cobra.NoArgs,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
}

// controlRequest is one unit of work for the command worker. Only one
// command can be in flight, so refreshes and writes share a single queue.
type controlRequest struct {
	refresh bool
	name    string
	value   float64
}

// connectionManager handles session lifecycle and reconnection
type connectionManager struct {
	session  *Session
	mu       sync.RWMutex
	p        *tea.Program
	done     chan struct{}
	frames   chan frameMsg
	requests chan controlRequest
	instance uint8
}

func (cm *connectionManager) getSession() *Session {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.session
}

func (cm *connectionManager) setSession(s *Session) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.session = s
}

// submit queues a request without blocking the UI. It reports false when
// the queue is full.
func (cm *connectionManager) submit(req controlRequest) bool {
	select {
	case cm.requests <- req:
		return true
	default:
		return false
	}
}

func (cm *connectionManager) open() (*Session, error) {
	obs := controller.ObserverFuncs{
		OnReply: func(reply *tec.Reply, cmd *tec.Command, err error) {
			select {
			case cm.frames <- frameMsg{reply: reply, cmd: cmd, err: err}:
			default:
			}
		},
	}
	return OpenSession(controller.WithObserver(obs))
}

func runControl(cmd *cobra.Command, args []string) error {
	cm := &connectionManager{
		done:     make(chan struct{}),
		frames:   make(chan frameMsg, 100),
		requests: make(chan controlRequest, 8),
		instance: cfg.Instance(),
	}

	session, err := cm.open()
	if err != nil {
		return err
	}
	cm.setSession(session)

	m := initialControlModel(cm, session.Info)
	p := tea.NewProgram(m, tea.WithAltScreen())
	cm.p = p

	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); cm.superviseLoop() }()
	go func() { defer wg.Done(); cm.batchLoop() }()
	go func() { defer wg.Done(); cm.workerLoop() }()

	cm.submit(controlRequest{refresh: true})

	_, runErr := p.Run()

	close(cm.done)
	if s := cm.getSession(); s != nil {
		_ = s.Close()
	}
	wg.Wait()

	if runErr != nil {
		return fmt.Errorf("TUI error: %w", runErr)
	}
	return nil
}

// superviseLoop waits for the session to drop and reconnects
func (cm *connectionManager) superviseLoop() {
	for {
		s := cm.getSession()
		select {
		case <-cm.done:
			return
		case <-s.Done():
		}

		cm.p.Send(connectionLostMsg{err: s.Err()})
		cm.setSession(nil)
		_ = s.Close()

		if !cm.reconnect() {
			return
		}
	}
}

// reconnect attempts to reconnect with exponential backoff.
// Returns false if shutdown was requested during reconnection.
func (cm *connectionManager) reconnect() bool {
	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		s, err := cm.open()
		if err == nil {
			cm.setSession(s)
			cm.p.Send(reconnectedMsg{connInfo: s.Info})
			cm.submit(controlRequest{refresh: true})
			return true
		}
		log.WithError(err).WithField("backoff", backoff).Debug("reconnect failed")

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// batchLoop forwards received replies to the TUI at a fixed rate
func (cm *connectionManager) batchLoop() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-cm.done:
			return
		case <-ticker.C:
			var batch controlBatchMsg

		drainLoop:
			for {
				select {
				case msg := <-cm.frames:
					batch.frames = append(batch.frames, msg)
				default:
					break drainLoop
				}
			}

			if len(batch.frames) > 0 {
				cm.p.Send(batch)
			}
		}
	}
}

// workerLoop runs queued requests and the periodic refresh one at a time
func (cm *connectionManager) workerLoop() {
	ticker := time.NewTicker(cfg.Controller.RefreshInterval)
	defer ticker.Stop()

	for {
		var req controlRequest
		select {
		case <-cm.done:
			return
		case <-ticker.C:
			req = controlRequest{refresh: true}
		case req = <-cm.requests:
		}

		s := cm.getSession()
		if s == nil {
			continue
		}
		cm.p.Send(cm.execute(s.Controller, req))
	}
}

func (cm *connectionManager) execute(ctrl *controller.Controller, req controlRequest) tea.Msg {
	ctx, cancel := commandContext(context.Background())
	defer cancel()

	if req.refresh {
		state, err := ctrl.Refresh(ctx, cm.instance)
		return controlStateMsg{state: state, err: err}
	}

	err := ctrl.Set(ctx, req.name, cm.instance, req.value)
	if err == nil {
		// let a chained status read land before reporting
		err = ctrl.WaitIdle(ctx)
	}
	return controlWriteMsg{
		name:  req.name,
		value: req.value,
		err:   err,
		state: ctrl.State(cm.instance),
	}
}
