package connection

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/rickgao/blip-connect/internal/clock"
	"github.com/rickgao/blip-connect/internal/config"
	"github.com/rickgao/blip-connect/internal/identity"
	"github.com/rickgao/blip-connect/internal/journal"
	"github.com/rickgao/blip-connect/internal/lime"
	"github.com/rickgao/blip-connect/internal/metadata"
)

// DefaultCommandTimeout applies when ProcessCommand is given no timeout.
const DefaultCommandTimeout = config.DefaultCommandTimeout

// Recorder receives one entry per dispatched command.
type Recorder interface {
	Record(ctx context.Context, e journal.Entry) error
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRecorder journals every dispatched command.
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// WithCommandTimeout overrides DefaultCommandTimeout.
func WithCommandTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.commandTimeout = d
		}
	}
}

// WithClock sets the clock used to time dispatches.
func WithClock(clk clock.Clock) Option {
	return func(c *Coordinator) {
		if clk != nil {
			c.clock = clk
		}
	}
}

// Coordinator owns the current gateway client. Connect calls are
// single-flight and readiness is latched on the first success.
type Coordinator struct {
	connector      Connector
	cfg            config.BlipConfig
	logger         *slog.Logger
	recorder       Recorder
	clock          clock.Clock
	commandTimeout time.Duration

	// Held from the state check through storing the new client,
	// including every backoff retry.
	connectSem *semaphore.Weighted

	mu             sync.RWMutex
	state          State
	client         TransportClient
	failure        error
	authentication string

	ready     chan struct{}
	readyOnce sync.Once
}

// NewCoordinator creates a disconnected coordinator. An empty
// ApplicationName in cfg defaults to "portal".
func NewCoordinator(connector Connector, cfg config.BlipConfig, opts ...Option) *Coordinator {
	if cfg.ApplicationName == "" {
		cfg.ApplicationName = config.DefaultApplicationName
	}

	c := &Coordinator{
		connector:      connector,
		cfg:            cfg,
		logger:         slog.Default(),
		clock:          clock.Real{},
		commandTimeout: DefaultCommandTimeout,
		connectSem:     semaphore.NewWeighted(1),
		state:          StateDisconnected,
		ready:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "coordinator")

	return c
}

// Config returns the configuration the coordinator connects with.
func (c *Coordinator) Config() config.BlipConfig {
	return c.cfg
}

// Connect establishes the current client unless one exists. Concurrent
// callers wait for the in-flight attempt and then observe its outcome.
// After the retry ceiling is hit every call returns the same
// *MaxRetriesError without dialing.
func (c *Coordinator) Connect(ctx context.Context, identifier, token, authentication string) error {
	c.mu.Lock()
	c.authentication = authentication
	c.mu.Unlock()

	if err := c.connectSem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer c.connectSem.Release(1)

	c.mu.Lock()
	switch c.state {
	case StateConnected:
		c.mu.Unlock()
		return nil
	case StatePermanentlyFailed:
		err := c.failure
		c.mu.Unlock()
		return err
	}
	if identifier == identity.UndefinedIdentifier {
		c.mu.Unlock()
		return ErrIdentifierMissing
	}
	c.state = StateConnecting
	c.mu.Unlock()

	c.logger.Info("connecting", "identity", identifier)

	client, err := c.connector.Connect(ctx, identifier, token, c.cfg)
	if err != nil {
		c.mu.Lock()
		if errors.Is(err, ErrMaxRetriesExceeded) {
			c.state = StatePermanentlyFailed
			c.failure = err
		} else {
			c.state = StateDisconnected
		}
		c.mu.Unlock()
		return err
	}

	c.adopt(client)
	return nil
}

// WithClient installs an already listening client instead of running the
// connect flow.
func (c *Coordinator) WithClient(client TransportClient) (*Coordinator, error) {
	if client == nil || !client.Listening() {
		return nil, ErrClientNotListening
	}

	if err := c.connectSem.Acquire(context.Background(), 1); err != nil {
		return nil, err
	}
	defer c.connectSem.Release(1)

	c.adopt(client)
	return c, nil
}

// WaitForInitialization blocks until the first successful connect or until
// ctx is done. Once initialized it returns nil immediately, forever.
func (c *Coordinator) WaitForInitialization(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready is closed on the first successful connect.
func (c *Coordinator) Ready() <-chan struct{} {
	return c.ready
}

// State returns the current connection state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Failure returns the error that made the coordinator fail permanently.
func (c *Coordinator) Failure() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failure
}

// ProcessCommand dispatches a copy of cmd through the current client. The
// copy gets an id when it has none and the store/attribution metadata. A
// timeout <= 0 selects the coordinator's default.
func (c *Coordinator) ProcessCommand(ctx context.Context, cmd lime.Command, timeout time.Duration) (lime.Command, error) {
	if timeout <= 0 {
		timeout = c.commandTimeout
	}

	c.mu.RLock()
	client, authentication := c.client, c.authentication
	c.mu.RUnlock()

	if client == nil {
		return lime.Command{}, ErrNotConnected
	}

	cmd.Metadata = maps.Clone(cmd.Metadata)
	if cmd.ID == "" {
		cmd.ID = uuid.NewString()
	}
	metadata.Inject(&cmd, authentication)

	start := c.clock.Now()
	resp, err := client.ProcessCommand(ctx, cmd, timeout)
	if err != nil {
		c.logger.Warn("command failed",
			"id", cmd.ID,
			"method", cmd.Method,
			"uri", cmd.URI,
			"error", err,
		)
	}
	c.record(ctx, cmd, resp, err, start)

	return resp, err
}

// Close closes the current client and returns to Disconnected. Readiness
// stays latched.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	if c.state != StatePermanentlyFailed {
		c.state = StateDisconnected
	}
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

// adopt makes client current, closes the client it replaces and latches
// readiness.
func (c *Coordinator) adopt(client TransportClient) {
	c.mu.Lock()
	previous := c.client
	c.client = client
	c.state = StateConnected
	c.failure = nil
	c.mu.Unlock()

	// The hook of previous ignores this close, it is no longer current.
	if previous != nil && previous != client {
		previous.Close()
	}

	client.OnClose(func(cause error) {
		c.handleClose(client, cause)
	})
	// The connection may have dropped before the hook was installed.
	if !client.Listening() {
		c.handleClose(client, ErrNotConnected)
	}

	c.readyOnce.Do(func() {
		close(c.ready)
	})
}

func (c *Coordinator) handleClose(client TransportClient, cause error) {
	c.mu.Lock()
	if c.client != client {
		c.mu.Unlock()
		return
	}
	c.client = nil
	c.state = StateDisconnected
	c.mu.Unlock()

	c.logger.Warn("connection closed", "cause", cause)
}

func (c *Coordinator) record(ctx context.Context, cmd, resp lime.Command, dispatchErr error, start time.Time) {
	if c.recorder == nil {
		return
	}

	entry := journal.Entry{
		CommandID:    cmd.ID,
		Method:       cmd.Method,
		URI:          cmd.URI,
		Attribution:  cmd.Metadata[metadata.AttributionKey],
		ShouldStore:  cmd.Metadata[metadata.ShouldStoreKey] == "true",
		Status:       resp.Status,
		Duration:     c.clock.Now().Sub(start),
		DispatchedAt: start,
	}
	if dispatchErr != nil {
		entry.Error = dispatchErr.Error()
		var cmdErr *lime.CommandError
		if !errors.As(dispatchErr, &cmdErr) {
			entry.Status = "error"
		} else if entry.Status == "" {
			entry.Status = lime.StatusFailure
		}
	}

	// The dispatch context may already be cancelled.
	recordCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if err := c.recorder.Record(recordCtx, entry); err != nil {
		c.logger.Error("journal record failed", "id", cmd.ID, "error", err)
	}
}
