package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rickgao/blip-connect/internal/lime"
)

// Errors
var (
	ErrMaxRetriesExceeded = errors.New("max connection try count reached")
	ErrIdentifierMissing  = errors.New("identifier is empty, try to connect again")
	ErrClientNotListening = errors.New("client must be listening")
	ErrNotConnected       = errors.New("not connected")
)

// MaxRetriesError is returned once a connect session used up its attempts.
// Internal state may be unrecoverable; the process should be restarted.
type MaxRetriesError struct {
	Identity string
	Ceiling  int
}

func (e *MaxRetriesError) Error() string {
	return fmt.Sprintf(
		"Connect user error: Could not connect user %s - Max connection try count of %d reached. Please refresh the page.",
		e.Identity, e.Ceiling,
	)
}

func (e *MaxRetriesError) Unwrap() error {
	return ErrMaxRetriesExceeded
}

// TransportClient is a gateway connection.
type TransportClient interface {
	// Connect dials and establishes the session.
	Connect(ctx context.Context) error

	// Close tears the connection down. Safe to call more than once.
	Close() error

	// ProcessCommand sends cmd and waits up to timeout for the response.
	ProcessCommand(ctx context.Context, cmd lime.Command, timeout time.Duration) (lime.Command, error)

	// Listening reports whether the session is established.
	Listening() bool

	// OnClose replaces the hook fired when the connection closes.
	OnClose(fn func(error))
}

// State is the coordinator's connection state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StatePermanentlyFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StatePermanentlyFailed:
		return "permanently_failed"
	default:
		return "unknown"
	}
}

// BackoffConfig bounds the connect retry loop.
type BackoffConfig struct {
	MaxAttempts int           // attempts per connect session
	BaseDelay   time.Duration // delay unit, doubled per failed attempt
}

// DefaultBackoffConfig returns the gateway's retry policy.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		MaxAttempts: 6,
		BaseDelay:   100 * time.Millisecond,
	}
}

// Delay returns the wait after the given number of failed attempts:
// BaseDelay * 2^attempts.
func (c BackoffConfig) Delay(attempts int) time.Duration {
	return c.BaseDelay * time.Duration(int64(1)<<uint(attempts))
}
