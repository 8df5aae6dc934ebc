package lime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SchemeExternal is the authentication scheme for issuer-signed tokens.
const SchemeExternal = "external"

// ExternalAuthentication is the authentication payload for SchemeExternal.
type ExternalAuthentication struct {
	Token  string `json:"token"`
	Issuer string `json:"issuer"`
}

// Client is a LIME client channel over a single transport.
type Client struct {
	cfg       ClientConfig
	logger    *slog.Logger
	transport Transport

	mu        sync.RWMutex
	listening bool
	closed    bool
	sessionID string
	localNode string
	onClose   func(error)

	shutdownOnce sync.Once
	done         chan struct{}

	// Command/response correlation
	pendingMu sync.Mutex
	pending   map[string]chan Command
}

// NewClient creates a client. The transport is taken from cfg.TransportFactory.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Handshake <= 0 {
		cfg.Handshake = DefaultClientConfig().Handshake
	}

	var transport Transport
	if cfg.TransportFactory != nil {
		transport = cfg.TransportFactory()
	} else {
		wsCfg := DefaultWebSocketConfig()
		wsCfg.HandshakeTimeout = cfg.Handshake
		wsCfg.PingInterval = cfg.KeepAlive
		transport = NewWebSocketTransport(wsCfg, logger)
	}

	return &Client{
		cfg:       cfg,
		logger:    logger.With("node", cfg.Identifier),
		transport: transport,
		done:      make(chan struct{}),
		pending:   make(map[string]chan Command),
	}
}

// URL returns the endpoint the client dials.
func (c *Client) URL() string {
	return EndpointURL(c.cfg.Scheme, c.cfg.HostName, c.cfg.Port)
}

// Node returns the identity/instance the client authenticates as.
func (c *Client) Node() string {
	node := c.cfg.Identifier + "@" + c.cfg.Domain
	if c.cfg.Instance != "" {
		node += "/" + c.cfg.Instance
	}
	return node
}

// SessionID returns the established session id, empty before Connect.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Listening reports whether the session is established and not closed.
func (c *Client) Listening() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.listening
}

// OnClose sets the hook fired once when the client closes. Nil detaches it.
func (c *Client) OnClose(fn func(error)) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// Connect opens the transport, establishes the session and sets presence
// and receipts.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.RLock()
	closed, listening := c.closed, c.listening
	c.mu.RUnlock()
	if closed {
		return ErrAlreadyClosed
	}
	if listening {
		return nil
	}

	if err := c.transport.Open(ctx, c.URL()); err != nil {
		return fmt.Errorf("open transport: %w", err)
	}

	if err := c.establish(ctx); err != nil {
		c.transport.Close()
		return err
	}

	c.mu.Lock()
	c.listening = true
	c.mu.Unlock()

	go c.dispatchLoop()

	if err := c.setPresence(ctx); err != nil {
		c.shutdown(err)
		return fmt.Errorf("set presence: %w", err)
	}
	if err := c.setReceipts(ctx); err != nil {
		c.shutdown(err)
		return fmt.Errorf("set receipts: %w", err)
	}

	c.logger.Debug("session established",
		"session", c.SessionID(),
		"url", c.URL(),
	)

	return nil
}

// Close finishes the session and closes the transport. Safe to call twice.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	listening := c.listening
	sessionID := c.sessionID
	c.mu.Unlock()

	if listening {
		c.send(Session{ID: sessionID, State: SessionFinishing})
	}
	c.shutdown(nil)
	return nil
}

// ProcessCommand sends cmd and waits up to timeout for its response.
func (c *Client) ProcessCommand(ctx context.Context, cmd Command, timeout time.Duration) (Command, error) {
	if !c.Listening() {
		return Command{}, ErrNotConnected
	}
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}

	respCh := make(chan Command, 1)

	c.pendingMu.Lock()
	c.pending[cmd.ID] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, cmd.ID)
		c.pendingMu.Unlock()
	}()

	if err := c.send(cmd); err != nil {
		return Command{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Command{}, ctx.Err()
	case <-timer.C:
		return Command{}, ErrTimeout
	case <-c.done:
		return Command{}, ErrNotConnected
	case resp := <-respCh:
		if resp.Status == StatusFailure {
			cmdErr := &CommandError{ID: resp.ID, Method: cmd.Method, URI: cmd.URI}
			if resp.Reason != nil {
				cmdErr.Reason = *resp.Reason
			}
			return resp, cmdErr
		}
		return resp, nil
	}
}

// establish runs the session handshake on the raw frame stream.
func (c *Client) establish(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Handshake)
	defer cancel()

	if err := c.send(Session{State: SessionNew}); err != nil {
		return fmt.Errorf("send new session: %w", err)
	}

	for {
		var session Session
		if err := c.nextSession(ctx, &session); err != nil {
			return err
		}

		switch session.State {
		case SessionNegotiating:
			// The first negotiating envelope carries the options, the
			// second one confirms our choice.
			if session.Compression != "" || session.Encryption != "" {
				continue
			}
			if err := c.send(Session{
				ID:          session.ID,
				State:       SessionNegotiating,
				Encryption:  "none",
				Compression: "none",
			}); err != nil {
				return fmt.Errorf("send negotiation: %w", err)
			}

		case SessionAuthenticating:
			auth, _ := json.Marshal(ExternalAuthentication{
				Token:  c.cfg.Token,
				Issuer: c.cfg.Issuer,
			})
			if err := c.send(Session{
				ID:             session.ID,
				From:           c.Node(),
				State:          SessionAuthenticating,
				Scheme:         SchemeExternal,
				Authentication: auth,
			}); err != nil {
				return fmt.Errorf("send authentication: %w", err)
			}

		case SessionEstablished:
			c.mu.Lock()
			c.sessionID = session.ID
			c.localNode = session.To
			c.mu.Unlock()
			return nil

		case SessionFailed:
			return fmt.Errorf("%w: %s", ErrSessionFailed, describe(session.Reason))

		case SessionFinished:
			return ErrSessionFinished

		default:
			c.logger.Debug("ignoring session envelope", "state", session.State)
		}
	}
}

func (c *Client) nextSession(ctx context.Context, session *Session) error {
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("session handshake: %w", ctx.Err())
		case err := <-c.transport.Errors():
			return fmt.Errorf("session handshake: %w", err)
		case frame := <-c.transport.Frames():
			var env envelope
			if err := json.Unmarshal(frame.Data, &env); err != nil || env.State == "" {
				continue
			}
			if err := json.Unmarshal(frame.Data, session); err != nil {
				return fmt.Errorf("decode session: %w", err)
			}
			return nil
		}
	}
}

func (c *Client) setPresence(ctx context.Context) error {
	resource, _ := json.Marshal(Presence{Status: "available", RoutingRule: c.cfg.RoutingRule})
	_, err := c.ProcessCommand(ctx, Command{
		Method:   MethodSet,
		URI:      "/presence",
		Type:     TypePresence,
		Resource: resource,
	}, c.cfg.Handshake)
	return err
}

func (c *Client) setReceipts(ctx context.Context) error {
	events := []string{"failed", "accepted", "dispatched", EventReceived}
	if c.cfg.NotifyConsumed {
		events = append(events, EventConsumed)
	}
	resource, _ := json.Marshal(Receipt{Events: events})
	_, err := c.ProcessCommand(ctx, Command{
		Method:   MethodSet,
		URI:      "/receipt",
		Type:     TypeReceipt,
		Resource: resource,
	}, c.cfg.Handshake)
	return err
}

// dispatchLoop routes inbound frames until the client shuts down.
func (c *Client) dispatchLoop() {
	for {
		select {
		case <-c.done:
			return
		case err := <-c.transport.Errors():
			c.logger.Warn("transport error", "error", err)
			c.shutdown(err)
			return
		case frame := <-c.transport.Frames():
			c.handleFrame(frame.Data)
		}
	}
}

func (c *Client) handleFrame(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		c.logger.Debug("dropping undecodable frame", "error", err)
		return
	}

	switch {
	case env.State != "":
		var session Session
		json.Unmarshal(data, &session)
		switch session.State {
		case SessionFinished:
			c.shutdown(ErrSessionFinished)
		case SessionFailed:
			c.shutdown(fmt.Errorf("%w: %s", ErrSessionFailed, describe(session.Reason)))
		}

	case env.Method != "" && env.Status != "":
		var resp Command
		if err := json.Unmarshal(data, &resp); err != nil {
			return
		}
		c.routeResponse(resp)

	case env.Method != "":
		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			return
		}
		c.answerCommand(cmd)

	case env.Event != "":
		c.logger.Debug("notification", "id", env.ID, "event", env.Event)

	case env.Content != nil:
		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			return
		}
		c.acknowledge(msg)
	}
}

// routeResponse sends a response to the waiting goroutine.
func (c *Client) routeResponse(resp Command) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.ID]
	if ok {
		delete(c.pending, resp.ID)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("response without pending command", "id", resp.ID)
		return
	}
	select {
	case ch <- resp:
	default:
	}
}

// answerCommand replies to server-initiated commands.
func (c *Client) answerCommand(cmd Command) {
	resp := Command{ID: cmd.ID, To: cmd.From, Method: cmd.Method}
	if cmd.Method == MethodGet && strings.HasSuffix(cmd.URI, "/ping") {
		resp.Status = StatusSuccess
		resp.Type = TypePing
		resp.Resource = json.RawMessage(`{}`)
	} else {
		resp.Status = StatusFailure
		resp.Reason = &Reason{Code: 1, Description: "unsupported command"}
	}
	if err := c.send(resp); err != nil {
		c.logger.Debug("failed to answer command", "uri", cmd.URI, "error", err)
	}
}

// acknowledge notifies the sender that an inbound message was received.
func (c *Client) acknowledge(msg Message) {
	if msg.ID == "" {
		return
	}
	c.send(Notification{ID: msg.ID, To: msg.From, Event: EventReceived})
	if c.cfg.NotifyConsumed {
		c.send(Notification{ID: msg.ID, To: msg.From, Event: EventConsumed})
	}
}

func (c *Client) send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.transport.Send(data)
}

// shutdown tears the client down once and fires the close hook.
func (c *Client) shutdown(cause error) {
	c.shutdownOnce.Do(func() {
		c.mu.Lock()
		c.listening = false
		c.closed = true
		hook := c.onClose
		c.mu.Unlock()

		close(c.done)
		c.transport.Close()

		if hook != nil {
			hook(cause)
		}
	})
}

// EndpointURL builds scheme://host:port. host may be a bare hostname or an
// absolute URL, in which case only its hostname is used.
func EndpointURL(scheme, host, port string) string {
	if u, err := url.Parse(host); err == nil && u.Scheme != "" && u.Host != "" {
		host = u.Hostname()
	}
	host = strings.TrimSuffix(host, "/")
	if port != "" {
		host = net.JoinHostPort(host, port)
	}
	if scheme == "" {
		scheme = "wss"
	}
	return scheme + "://" + host
}

func describe(r *Reason) string {
	if r == nil {
		return "no reason"
	}
	return fmt.Sprintf("%d %s", r.Code, r.Description)
}
