package lime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/blip-connect/internal/version"
)

// Subprotocol is the websocket subprotocol negotiated with the gateway.
const Subprotocol = "lime"

// Transport is a single socket carrying serialized envelopes.
type Transport interface {
	// Open dials the endpoint.
	Open(ctx context.Context, url string) error

	// Close gracefully closes the socket.
	Close() error

	// Send writes one serialized envelope.
	Send(data []byte) error

	// Frames returns a channel of all inbound frames.
	Frames() <-chan TimestampedFrame

	// Errors returns a channel of socket errors.
	Errors() <-chan error

	// IsConnected returns current socket state.
	IsConnected() bool
}

// WebSocketConfig configures a websocket transport.
type WebSocketConfig struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration // 0 disables keepalive
	BufferSize       int
}

// DefaultWebSocketConfig returns sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		PingInterval:     30 * time.Second,
		BufferSize:       256,
	}
}

type wsTransport struct {
	cfg    WebSocketConfig
	logger *slog.Logger

	conn *websocket.Conn

	frames chan TimestampedFrame
	errors chan error
	done   chan struct{}

	writeMu sync.Mutex

	mu         sync.RWMutex
	connected  bool
	lastPongAt time.Time
	closed     bool
}

// NewWebSocketTransport creates a transport backed by gorilla/websocket.
func NewWebSocketTransport(cfg WebSocketConfig, logger *slog.Logger) Transport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultWebSocketConfig().BufferSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWebSocketConfig().WriteTimeout
	}

	return &wsTransport{
		cfg:    cfg,
		logger: logger,
		frames: make(chan TimestampedFrame, cfg.BufferSize),
		errors: make(chan error, 1),
		done:   make(chan struct{}),
	}
}

// Open dials the websocket endpoint.
func (t *wsTransport) Open(ctx context.Context, url string) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrAlreadyClosed
	}
	t.mu.Unlock()

	header := http.Header{}
	header.Set("User-Agent", version.UserAgent())

	dialer := websocket.Dialer{
		HandshakeTimeout: t.cfg.HandshakeTimeout,
		Subprotocols:     []string{Subprotocol},
	}

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.connected = true
	t.lastPongAt = time.Now()
	t.mu.Unlock()

	conn.SetPongHandler(func(string) error {
		t.mu.Lock()
		t.lastPongAt = time.Now()
		t.mu.Unlock()
		return nil
	})

	go t.readLoop()
	if t.cfg.PingInterval > 0 {
		go t.keepAliveLoop()
	}

	t.logger.Debug("websocket opened", "url", url)

	return nil
}

// Close gracefully closes the socket.
func (t *wsTransport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	conn := t.conn
	t.mu.Unlock()

	close(t.done)

	if conn != nil {
		t.writeMu.Lock()
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		t.writeMu.Unlock()
		return conn.Close()
	}

	return nil
}

// Send writes one text frame.
func (t *wsTransport) Send(data []byte) error {
	t.mu.RLock()
	if !t.connected {
		t.mu.RUnlock()
		return ErrNotConnected
	}
	conn := t.conn
	t.mu.RUnlock()

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Frames() <-chan TimestampedFrame {
	return t.frames
}

func (t *wsTransport) Errors() <-chan error {
	return t.errors
}

func (t *wsTransport) IsConnected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.connected
}

func (t *wsTransport) readLoop() {
	defer func() {
		t.mu.Lock()
		t.connected = false
		t.mu.Unlock()
	}()

	for {
		_, data, err := t.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Errors after Close() are expected
			select {
			case <-t.done:
			default:
				t.fail(err)
			}
			return
		}

		select {
		case t.frames <- TimestampedFrame{Data: data, ReceivedAt: receivedAt}:
		case <-t.done:
			return
		}
	}
}

func (t *wsTransport) keepAliveLoop() {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := t.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(t.cfg.WriteTimeout))
			t.writeMu.Unlock()
			if err != nil {
				t.logger.Debug("failed to send ping", "error", err)
			}

			t.mu.RLock()
			lastPong := t.lastPongAt
			t.mu.RUnlock()

			if time.Since(lastPong) > 2*t.cfg.PingInterval {
				t.logger.Warn("no pong received, connection stale",
					"last_pong", lastPong,
					"interval", t.cfg.PingInterval,
				)
				t.fail(ErrStaleConnection)
				return
			}
		}
	}
}

func (t *wsTransport) fail(err error) {
	select {
	case t.errors <- err:
	default:
	}
}
