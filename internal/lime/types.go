package lime

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrTimeout         = errors.New("command timeout")
	ErrStaleConnection = errors.New("connection stale (no pong)")
	ErrSessionFailed   = errors.New("session failed")
	ErrSessionFinished = errors.New("session finished by server")
)

// Command methods.
const (
	MethodGet       = "get"
	MethodSet       = "set"
	MethodDelete    = "delete"
	MethodMerge     = "merge"
	MethodObserve   = "observe"
	MethodSubscribe = "subscribe"
)

// Command statuses.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

// Session states.
const (
	SessionNew            = "new"
	SessionNegotiating    = "negotiating"
	SessionAuthenticating = "authenticating"
	SessionEstablished    = "established"
	SessionFinishing      = "finishing"
	SessionFinished       = "finished"
	SessionFailed         = "failed"
)

// Notification events.
const (
	EventReceived = "received"
	EventConsumed = "consumed"
)

// Resource media types used by the client itself.
const (
	TypePresence = "application/vnd.lime.presence+json"
	TypeReceipt  = "application/vnd.lime.receipt+json"
	TypePing     = "application/vnd.lime.ping+json"
)

// Reason describes why a command or session failed.
type Reason struct {
	Code        int    `json:"code"`
	Description string `json:"description,omitempty"`
}

// Command is a request or response envelope.
type Command struct {
	ID       string            `json:"id,omitempty"`
	From     string            `json:"from,omitempty"`
	To       string            `json:"to,omitempty"`
	Method   string            `json:"method"`
	URI      string            `json:"uri,omitempty"`
	Type     string            `json:"type,omitempty"`
	Resource json.RawMessage   `json:"resource,omitempty"`
	Status   string            `json:"status,omitempty"`
	Reason   *Reason           `json:"reason,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Session is a session negotiation envelope.
type Session struct {
	ID             string          `json:"id,omitempty"`
	From           string          `json:"from,omitempty"`
	To             string          `json:"to,omitempty"`
	State          string          `json:"state"`
	Encryption     string          `json:"encryption,omitempty"`
	Compression    string          `json:"compression,omitempty"`
	Scheme         string          `json:"scheme,omitempty"`
	Authentication json.RawMessage `json:"authentication,omitempty"`
	Reason         *Reason         `json:"reason,omitempty"`
}

// Message is an inbound content envelope.
type Message struct {
	ID      string          `json:"id,omitempty"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content"`
}

// Notification reports a message lifecycle event back to its sender.
type Notification struct {
	ID    string `json:"id"`
	To    string `json:"to,omitempty"`
	Event string `json:"event"`
}

// Presence is the resource set right after the session is established.
type Presence struct {
	Status      string `json:"status"`
	RoutingRule string `json:"routingRule,omitempty"`
}

// Receipt selects which notification events the server should deliver.
type Receipt struct {
	Events []string `json:"events"`
}

// CommandError is returned when the server answers a command with failure.
type CommandError struct {
	ID     string
	Method string
	URI    string
	Reason Reason
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("command %s %s failed: %d %s", e.Method, e.URI, e.Reason.Code, e.Reason.Description)
}

// envelope is used to classify inbound frames before full decoding.
type envelope struct {
	ID      string          `json:"id"`
	State   string          `json:"state"`
	Method  string          `json:"method"`
	Status  string          `json:"status"`
	Event   string          `json:"event"`
	Content json.RawMessage `json:"content"`
}

// TimestampedFrame wraps raw frame data with its receive timestamp.
type TimestampedFrame struct {
	Data       []byte
	ReceivedAt time.Time
}

// ClientConfig configures a LIME client.
type ClientConfig struct {
	Identifier     string
	Token          string
	Domain         string        // e.g. blip.ai
	Issuer         string        // e.g. account.blip.ai
	HostName       string        // bare host or absolute URL
	Port           string        // e.g. 443
	Scheme         string        // ws or wss
	RoutingRule    string        // presence routing rule, e.g. identity
	Instance       string        // application name appended to the node
	NotifyConsumed bool          // send consumed notifications for inbound messages
	Handshake      time.Duration // session negotiation deadline
	KeepAlive      time.Duration // ping interval, 0 disables
	// TransportFactory returns a fresh socket per client. Nil uses websocket.
	TransportFactory func() Transport
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Domain:      "blip.ai",
		Issuer:      "account.blip.ai",
		Port:        "443",
		Scheme:      "wss",
		RoutingRule: "identity",
		Instance:    "portal",
		Handshake:   10 * time.Second,
		KeepAlive:   30 * time.Second,
	}
}
