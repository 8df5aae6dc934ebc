package connection

import (
	"context"
	"sync"
	"time"

	"github.com/rickgao/blip-connect/internal/config"
	"github.com/rickgao/blip-connect/internal/lime"
)

// fakeClient is a scriptable TransportClient.
type fakeClient struct {
	host       string
	connectErr error

	mu        sync.Mutex
	listening bool
	closes    int
	onClose   func(error)
	commands  []lime.Command
	timeouts  []time.Duration
	resp      lime.Command
	respErr   error
}

func (f *fakeClient) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.listening = true
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	f.closes++
	f.listening = false
	hook := f.onClose
	f.mu.Unlock()

	if hook != nil {
		hook(nil)
	}
	return nil
}

func (f *fakeClient) ProcessCommand(ctx context.Context, cmd lime.Command, timeout time.Duration) (lime.Command, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
	f.timeouts = append(f.timeouts, timeout)
	resp := f.resp
	resp.ID = cmd.ID
	return resp, f.respErr
}

func (f *fakeClient) Listening() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listening
}

func (f *fakeClient) OnClose(fn func(error)) {
	f.mu.Lock()
	f.onClose = fn
	f.mu.Unlock()
}

// drop simulates the server closing the connection.
func (f *fakeClient) drop(cause error) {
	f.mu.Lock()
	f.listening = false
	hook := f.onClose
	f.mu.Unlock()

	if hook != nil {
		hook(cause)
	}
}

func (f *fakeClient) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func (f *fakeClient) sent() ([]lime.Command, []time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]lime.Command(nil), f.commands...), append([]time.Duration(nil), f.timeouts...)
}

// fakeBuilder builds fakeClients; fail decides the connect error of the
// n-th build (1-based) for host.
type fakeBuilder struct {
	fail func(n int, host string) error

	mu      sync.Mutex
	clients []*fakeClient
	// reported counts close hooks fired on clients that were never adopted.
	reported int
}

func (b *fakeBuilder) Build(identifier, token, hostname string, cfg config.BlipConfig) (TransportClient, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.fail != nil {
		err = b.fail(len(b.clients)+1, hostname)
	}
	c := &fakeClient{host: hostname, connectErr: err}
	c.onClose = func(error) {
		b.mu.Lock()
		b.reported++
		b.mu.Unlock()
	}
	b.clients = append(b.clients, c)
	return c, nil
}

func (b *fakeBuilder) hosts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	hosts := make([]string, len(b.clients))
	for i, c := range b.clients {
		hosts[i] = c.host
	}
	return hosts
}

// instantClock fires every timer immediately and records the delays. With
// block set its timers never fire.
type instantClock struct {
	block bool

	mu     sync.Mutex
	delays []time.Duration
}

func (c *instantClock) Now() time.Time { return time.Unix(0, 0) }

func (c *instantClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.delays = append(c.delays, d)
	c.mu.Unlock()

	if c.block {
		return nil
	}
	ch := make(chan time.Time, 1)
	ch <- time.Unix(0, 0).Add(d)
	return ch
}

func (c *instantClock) recorded() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.delays...)
}

func testBlipConfig() config.BlipConfig {
	return config.BlipConfig{
		DomainURL:     "https://portal.blip.ai",
		Domain:        "blip.ai",
		AccountIssuer: "account.blip.ai",
		Websocket: config.WebsocketConfig{
			Scheme:         "wss",
			Port:           "443",
			HostName:       "ws.msging.net",
			HostNameTenant: "ws.msging.net",
		},
		ApplicationName: "portal",
	}
}
