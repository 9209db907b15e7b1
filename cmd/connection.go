// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Thermoquad/tecstat/pkg/controller"
	"github.com/gorilla/websocket"
	"go.bug.st/serial"
	"golang.org/x/term"
)

// Connection provides a common interface for reading/writing bytes from serial or WebSocket
type Connection interface {
	io.Reader
	io.Writer
	io.Closer
}

// SerialConnection wraps a serial port
type SerialConnection struct {
	port serial.Port
}

func (s *SerialConnection) Read(p []byte) (int, error) {
	return s.port.Read(p)
}

func (s *SerialConnection) Write(p []byte) (int, error) {
	return s.port.Write(p)
}

// ResetInputBuffer drops bytes received but not yet read
func (s *SerialConnection) ResetInputBuffer() error {
	return s.port.ResetInputBuffer()
}

func (s *SerialConnection) Close() error {
	return s.port.Close()
}

// ErrConnectionClosed is returned when reading from a closed WebSocket connection
var ErrConnectionClosed = errors.New("websocket connection closed")

// WebSocketConnection wraps a WebSocket connection for byte-level reading.
// The bridge forwards serial bytes as text or binary messages.
type WebSocketConnection struct {
	conn *websocket.Conn

	mu        sync.Mutex // guards buf against ResetInputBuffer
	buf       []byte
	bufOffset int
	closed    bool // Track if connection has failed/closed
}

func (w *WebSocketConnection) Read(p []byte) (int, error) {
	w.mu.Lock()
	// Return immediately if connection is known to be closed
	if w.closed {
		w.mu.Unlock()
		return 0, ErrConnectionClosed
	}
	// If we have buffered data, return it first
	if w.bufOffset < len(w.buf) {
		n := copy(p, w.buf[w.bufOffset:])
		w.bufOffset += n
		w.mu.Unlock()
		return n, nil
	}
	w.mu.Unlock()

	// Read next message from WebSocket (outside the lock so a flush never
	// waits on the network)
	for {
		messageType, data, err := w.conn.ReadMessage()
		if err != nil {
			// Mark connection as closed to prevent further read attempts
			w.mu.Lock()
			w.closed = true
			w.mu.Unlock()
			return 0, err
		}

		// The bridge may forward ASCII frames as either message type
		if messageType != websocket.BinaryMessage && messageType != websocket.TextMessage {
			continue
		}

		// Buffer the message and return what fits
		w.mu.Lock()
		w.buf = data
		n := copy(p, w.buf)
		w.bufOffset = n
		w.mu.Unlock()
		return n, nil
	}
}

func (w *WebSocketConnection) Write(p []byte) (int, error) {
	// Frames are ASCII, send them as text
	if err := w.conn.WriteMessage(websocket.TextMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// ResetInputBuffer discards the remainder of the current message
func (w *WebSocketConnection) ResetInputBuffer() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = nil
	w.bufOffset = 0
	return nil
}

func (w *WebSocketConnection) Close() error {
	return w.conn.Close()
}

// OpenSerialConnection opens a serial port connection
func OpenSerialConnection(portName string, baudRate int) (Connection, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", portName, err)
	}

	return &SerialConnection{port: port}, nil
}

// OpenWebSocketConnection opens a WebSocket connection with HTTP Basic auth
func OpenWebSocketConnection(wsURL, username, password string, skipSSLVerify bool) (Connection, error) {
	// Parse and validate URL
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	// Validate scheme
	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	// Create dialer with timeout
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	// Configure TLS for wss://
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: skipSSLVerify,
		}
	}

	// Build HTTP headers with Basic auth
	headers := http.Header{}
	if username != "" && password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	// Connect
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	return &WebSocketConnection{conn: conn}, nil
}

// GetPassword retrieves password from environment or prompts user
func GetPassword() (string, error) {
	// First check environment variable
	if pw := os.Getenv("TECSTAT_PASSWORD"); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, "Password: ")

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %w", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// OpenConnection opens either a serial or WebSocket connection based on the
// resolved configuration
func OpenConnection() (Connection, string, error) {
	if cfg.WebSocket.URL != "" {
		// WebSocket mode
		password := ""
		if cfg.WebSocket.Username != "" {
			var err error
			password, err = GetPassword()
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := OpenWebSocketConnection(cfg.WebSocket.URL, cfg.WebSocket.Username, password, cfg.WebSocket.NoSSLVerify)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("WebSocket: %s", cfg.WebSocket.URL), nil
	}

	if cfg.Serial.Port != "" {
		// Serial mode
		conn, err := OpenSerialConnection(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Serial: %s @ %d baud", cfg.Serial.Port, cfg.Serial.Baud), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// Session is an open connection with a running controller
type Session struct {
	Controller *controller.Controller
	Info       string

	cancel context.CancelFunc
	wg     sync.WaitGroup
	done   chan struct{}
	runErr error
}

// OpenSession opens the configured connection and starts the controller's
// receive task
func OpenSession(opts ...controller.Option) (*Session, error) {
	conn, info, err := OpenConnection()
	if err != nil {
		return nil, err
	}

	// Config first so callers can override
	base := []controller.Option{
		controller.WithLogger(log),
		controller.WithResponseTimeout(cfg.Controller.ResponseTimeout),
		controller.WithVerifyChecksum(cfg.Controller.VerifyChecksum),
	}
	ctrl, err := controller.New(conn, registry, append(base, opts...)...)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	// Start the receive task; it ends on Close or a transport failure
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{Controller: ctrl, Info: info, cancel: cancel, done: make(chan struct{})}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(s.done)
		err := ctrl.Run(ctx)
		// Closing the session is not a failure
		if err != nil && !errors.Is(err, controller.ErrClosed) && !errors.Is(err, context.Canceled) {
			log.WithError(err).Error("receive task stopped")
			s.runErr = err
		}
	}()

	log.WithField("connection", info).Info("session opened")
	return s, nil
}

// Done is closed once the receive task has stopped
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err reports why the receive task stopped. It is nil until Done is closed
// and after a normal shutdown.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.runErr
	default:
		return nil
	}
}

// Close stops the receive task and closes the connection
func (s *Session) Close() error {
	s.cancel()
	err := s.Controller.Close()
	s.wg.Wait()
	if err != nil {
		return err
	}
	return s.runErr
}
