package infra

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocketHandler defines exchange-specific logic for the BaseWSWorker.
type WebSocketHandler interface {
	GetURL() string
	OnConnect(ctx context.Context, conn *websocket.Conn) error
	OnMessage(ctx context.Context, msg []byte)
	OnPing(ctx context.Context, conn *websocket.Conn) error
	ID() string
}

// DisconnectHandler is optionally implemented by handlers that track drops.
type DisconnectHandler interface {
	OnDisconnect(err error)
}

// BaseWSWorker manages the lifecycle of a WebSocket connection.
// It handles reconnection with backoff, read timeouts, and thread-safe writes.
type BaseWSWorker struct {
	handler   WebSocketHandler
	mu        sync.RWMutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	connected atomic.Bool
	metrics   *Metrics

	ReadTimeout  time.Duration
	PingInterval time.Duration
	BaseDelay    time.Duration
	MaxBackoff   time.Duration
}

// NewBaseWSWorker creates a new generic WebSocket worker.
func NewBaseWSWorker(handler WebSocketHandler) *BaseWSWorker {
	return &BaseWSWorker{
		handler:      handler,
		metrics:      GlobalMetrics,
		ReadTimeout:  60 * time.Second,
		PingInterval: 30 * time.Second,
		BaseDelay:    1 * time.Second,
		MaxBackoff:   30 * time.Second,
	}
}

// WithMetrics reports connection gauges to m.
func (w *BaseWSWorker) WithMetrics(m *Metrics) *BaseWSWorker {
	if m != nil {
		w.metrics = m
	}
	return w
}

// Start initiates the connection loop.
func (w *BaseWSWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.runLoop(ctx)
}

// Stop terminates the worker.
func (w *BaseWSWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.close()
	w.wg.Wait()
}

// IsConnected reports whether a live connection is established.
func (w *BaseWSWorker) IsConnected() bool {
	return w.connected.Load()
}

func (w *BaseWSWorker) runLoop(ctx context.Context) {
	defer w.wg.Done()
	retry := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := w.connect(ctx); err != nil {
			delay := CalculateBackoffWith(retry, w.BaseDelay, w.MaxBackoff)
			slog.Warn("WS Connection failed", "id", w.handler.ID(), "err", err, "retry", retry, "delay", delay)
			retry++

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		received, err := w.process(ctx)

		if dh, ok := w.handler.(DisconnectHandler); ok {
			dh.OnDisconnect(err)
		}

		// A session counts as clean once the server has sent something.
		if received {
			retry = 0
		}
		delay := CalculateBackoffWith(retry, w.BaseDelay, w.MaxBackoff)
		retry++

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (w *BaseWSWorker) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	header := make(http.Header)
	header.Set("User-Agent", DefaultUserAgent)

	conn, _, err := dialer.DialContext(ctx, w.handler.GetURL(), header)
	if err != nil {
		return err
	}

	w.mu.Lock()
	if ctx.Err() != nil {
		w.mu.Unlock()
		conn.Close()
		return ctx.Err()
	}
	w.conn = conn
	w.mu.Unlock()
	w.metrics.IncrementConnections()
	w.connected.Store(true)

	if err := w.handler.OnConnect(ctx, conn); err != nil {
		w.close()
		return fmt.Errorf("OnConnect failed: %w", err)
	}

	if w.PingInterval > 0 {
		w.wg.Add(1)
		go w.pingLoop(ctx, conn)
	}

	slog.Info("WS Connected", "id", w.handler.ID())
	return nil
}

// process reads until the connection fails and reports whether any message arrived.
func (w *BaseWSWorker) process(ctx context.Context) (bool, error) {
	received := false
	for {
		w.mu.RLock()
		c := w.conn
		w.mu.RUnlock()
		if c == nil {
			return received, ctx.Err()
		}

		c.SetReadDeadline(time.Now().Add(w.ReadTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("WS Read error", "id", w.handler.ID(), "err", err)
			}
			w.close()
			return received, err
		}

		received = true
		w.handler.OnMessage(ctx, msg)
	}
}

// pingLoop keeps one connection alive and exits when that connection is replaced.
func (w *BaseWSWorker) pingLoop(ctx context.Context, conn *websocket.Conn) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.mu.RLock()
			current := w.conn
			w.mu.RUnlock()
			if current != conn {
				return
			}
			if err := w.handler.OnPing(ctx, conn); err != nil {
				slog.Warn("WS Ping error", "id", w.handler.ID(), "err", err)
				w.close()
				return
			}
		}
	}
}

// Write sends one frame; writes are serialized.
func (w *BaseWSWorker) Write(msgType int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	c := w.conn
	w.mu.RUnlock()

	if c == nil {
		return fmt.Errorf("ws not connected")
	}

	c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.WriteMessage(msgType, data)
}

// WriteJSON marshals v and sends it as a text frame.
func (w *BaseWSWorker) WriteJSON(v any) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.RLock()
	c := w.conn
	w.mu.RUnlock()

	if c == nil {
		return fmt.Errorf("ws not connected")
	}

	c.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.WriteJSON(v)
}

func (w *BaseWSWorker) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		w.conn.Close()
		w.conn = nil
		w.connected.Store(false)
		w.metrics.DecrementConnections()
	}
}
