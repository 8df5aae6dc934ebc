package connection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/rickgao/blip-connect/internal/clock"
	"github.com/rickgao/blip-connect/internal/config"
	"github.com/rickgao/blip-connect/internal/identity"
	"github.com/rickgao/blip-connect/internal/tenant"
)

var errRefused = errors.New("connection refused")

var (
	canonicalLocation = tenant.StaticLocation{OriginURL: "https://portal.blip.ai", Host: "portal.blip.ai"}
	tenantLocation    = tenant.StaticLocation{OriginURL: "https://my-tenant.portal.blip.ai", Host: "my-tenant.portal.blip.ai"}
)

func TestBackoffConfig_Delay(t *testing.T) {
	cfg := DefaultBackoffConfig()

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		3200 * time.Millisecond,
		6400 * time.Millisecond,
	}
	for n, w := range want {
		if got := cfg.Delay(n); got != w {
			t.Errorf("Delay(%d) = %v, want %v", n, got, w)
		}
	}
}

func TestBackoffConnector_SucceedsFirstTry(t *testing.T) {
	builder := &fakeBuilder{}
	clk := &instantClock{}
	bc := NewBackoffConnector(builder, tenant.NewResolver(canonicalLocation), clk, BackoffConfig{}, nil)

	client, err := bc.Connect(context.Background(), "user", "token", testBlipConfig())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !client.Listening() {
		t.Error("returned client should be listening")
	}
	if got := builder.hosts(); !slices.Equal(got, []string{"ws.msging.net"}) {
		t.Errorf("built hosts = %v", got)
	}
	if len(clk.recorded()) != 0 {
		t.Errorf("unexpected delays %v", clk.recorded())
	}
}

func TestBackoffConnector_RetriesWithExponentialDelay(t *testing.T) {
	builder := &fakeBuilder{fail: func(n int, host string) error {
		if n <= 3 {
			return errRefused
		}
		return nil
	}}
	clk := &instantClock{}
	bc := NewBackoffConnector(builder, tenant.NewResolver(canonicalLocation), clk, DefaultBackoffConfig(), nil)

	client, err := bc.Connect(context.Background(), "user", "token", testBlipConfig())
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	if len(builder.clients) != 4 {
		t.Fatalf("built %d clients, want 4", len(builder.clients))
	}
	if client != builder.clients[3] {
		t.Error("Connect should return the client that connected")
	}

	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond}
	if got := clk.recorded(); !slices.Equal(got, want) {
		t.Errorf("delays = %v, want %v", got, want)
	}

	for i, c := range builder.clients[:3] {
		if c.closeCount() != 1 {
			t.Errorf("failed client %d closed %d times, want 1", i, c.closeCount())
		}
	}
	if builder.reported != 0 {
		t.Errorf("teardown of failed clients fired their build-time hooks %d times", builder.reported)
	}
}

func TestBackoffConnector_Ceiling(t *testing.T) {
	builder := &fakeBuilder{fail: func(int, string) error { return errRefused }}
	clk := &instantClock{}
	bc := NewBackoffConnector(builder, tenant.NewResolver(canonicalLocation), clk, DefaultBackoffConfig(), nil)

	client, err := bc.Connect(context.Background(), "user", "token", testBlipConfig())
	if client != nil {
		t.Error("expected nil client")
	}

	var maxErr *MaxRetriesError
	if !errors.As(err, &maxErr) {
		t.Fatalf("error = %v, want *MaxRetriesError", err)
	}
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Error("error should wrap ErrMaxRetriesExceeded")
	}
	if maxErr.Identity != "user" || maxErr.Ceiling != 6 {
		t.Errorf("MaxRetriesError = %+v", maxErr)
	}
	wantMsg := "Connect user error: Could not connect user user - Max connection try count of 6 reached. Please refresh the page."
	if err.Error() != wantMsg {
		t.Errorf("message = %q", err.Error())
	}

	// The seventh check fails without building.
	if len(builder.clients) != 6 {
		t.Errorf("built %d clients, want 6", len(builder.clients))
	}

	var want []time.Duration
	for k := 1; k <= 6; k++ {
		want = append(want, time.Duration(100*(1<<k))*time.Millisecond)
	}
	if got := clk.recorded(); !slices.Equal(got, want) {
		t.Errorf("delays = %v, want %v", got, want)
	}
}

func TestBackoffConnector_InvalidCredentialsNotRetried(t *testing.T) {
	calls := 0
	builder := BuilderFunc(func(identifier, token, hostname string, _ config.BlipConfig) (TransportClient, error) {
		calls++
		return nil, fmt.Errorf("%w: identifier is required", identity.ErrInvalidCredentials)
	})
	clk := &instantClock{}
	bc := NewBackoffConnector(builder, nil, clk, BackoffConfig{}, nil)

	_, err := bc.Connect(context.Background(), "", "token", testBlipConfig())
	if !errors.Is(err, identity.ErrInvalidCredentials) {
		t.Fatalf("error = %v, want ErrInvalidCredentials", err)
	}
	if calls != 1 {
		t.Errorf("builder called %d times, want 1", calls)
	}
	if len(clk.recorded()) != 0 {
		t.Errorf("unexpected delays %v", clk.recorded())
	}
}

func TestBackoffConnector_ContextCancelledDuringWait(t *testing.T) {
	builder := &fakeBuilder{fail: func(int, string) error { return errRefused }}
	clk := &instantClock{block: true}
	bc := NewBackoffConnector(builder, nil, clk, BackoffConfig{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := bc.Connect(ctx, "user", "token", testBlipConfig())
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(builder.clients) != 1 {
		t.Errorf("built %d clients, want 1", len(builder.clients))
	}
}

func TestBackoffConnector_TenantRedial(t *testing.T) {
	tests := []struct {
		name      string
		location  tenant.Location
		tenant    string
		hostName  string
		tenantURL string
		wantHosts []string
	}{
		{
			name:      "canonical origin connects once",
			location:  canonicalLocation,
			tenant:    "my-tenant",
			hostName:  "ws.msging.net",
			tenantURL: "ws.msging.net",
			wantHosts: []string{"ws.msging.net"},
		},
		{
			name:      "no tenant connects once",
			location:  tenantLocation,
			hostName:  "ws.msging.net",
			tenantURL: "ws.msging.net",
			wantHosts: []string{"ws.msging.net"},
		},
		{
			name:      "tenant origin redials prefixed absolute host",
			location:  tenantLocation,
			tenant:    "my-tenant",
			hostName:  "ws.msging.net",
			tenantURL: "wss://ws.msging.net",
			wantHosts: []string{"ws.msging.net", "wss://my-tenant.ws.msging.net/"},
		},
		{
			name:      "tenant origin with bare host degrades to concatenation",
			location:  tenantLocation,
			tenant:    "my-tenant",
			hostName:  "ws.msging.net",
			tenantURL: "ws.msging.net",
			wantHosts: []string{"ws.msging.net", "my-tenant.ws.msging.net"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testBlipConfig()
			cfg.Tenant = tt.tenant
			cfg.Websocket.HostName = tt.hostName
			cfg.Websocket.HostNameTenant = tt.tenantURL

			builder := &fakeBuilder{}
			bc := NewBackoffConnector(builder, tenant.NewResolver(tt.location), &instantClock{}, BackoffConfig{}, nil)

			client, err := bc.Connect(context.Background(), "user", "token", cfg)
			if err != nil {
				t.Fatalf("Connect failed: %v", err)
			}

			if got := builder.hosts(); !slices.Equal(got, tt.wantHosts) {
				t.Errorf("built hosts = %v, want %v", got, tt.wantHosts)
			}

			last := builder.clients[len(builder.clients)-1]
			if client != last {
				t.Error("Connect should return the last built client")
			}
			if len(builder.clients) == 2 && builder.clients[0].closeCount() != 1 {
				t.Error("primary client should be closed before the redial")
			}
		})
	}
}

func TestBackoffConnector_TenantRedialFailureReentersBackoff(t *testing.T) {
	cfg := testBlipConfig()
	cfg.Tenant = "my-tenant"
	cfg.Websocket.HostNameTenant = "wss://ws.msging.net"

	builder := &fakeBuilder{fail: func(n int, host string) error {
		if n == 2 {
			return errRefused
		}
		return nil
	}}
	clk := &instantClock{}
	bc := NewBackoffConnector(builder, tenant.NewResolver(tenantLocation), clk, BackoffConfig{}, nil)

	if _, err := bc.Connect(context.Background(), "user", "token", cfg); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	want := []string{"ws.msging.net", "wss://my-tenant.ws.msging.net/", "ws.msging.net", "wss://my-tenant.ws.msging.net/"}
	if got := builder.hosts(); !slices.Equal(got, want) {
		t.Errorf("built hosts = %v, want %v", got, want)
	}
	if got := clk.recorded(); !slices.Equal(got, []time.Duration{200 * time.Millisecond}) {
		t.Errorf("delays = %v", got)
	}
}

func TestBackoffConnector_WaitsOnClock(t *testing.T) {
	builder := &fakeBuilder{fail: func(n int, host string) error {
		if n == 1 {
			return errRefused
		}
		return nil
	}}
	clk := clock.NewManual(time.Unix(0, 0))
	bc := NewBackoffConnector(builder, nil, clk, DefaultBackoffConfig(), nil)

	done := make(chan error, 1)
	go func() {
		_, err := bc.Connect(context.Background(), "user", "token", testBlipConfig())
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for clk.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("connector never started waiting")
		}
		time.Sleep(time.Millisecond)
	}

	clk.Advance(199 * time.Millisecond)
	select {
	case <-done:
		t.Fatal("retry fired before the backoff delay elapsed")
	case <-time.After(20 * time.Millisecond):
	}

	clk.Advance(time.Millisecond)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Connect failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retry did not fire after the backoff delay")
	}
}

func TestBackoffConnector_DefaultPortOriginDoesNotRedial(t *testing.T) {
	loc, err := tenant.ParseLocation("https://portal.blip.ai:443")
	if err != nil {
		t.Fatalf("ParseLocation failed: %v", err)
	}

	cfg := testBlipConfig()
	cfg.Tenant = "my-tenant"
	cfg.Websocket.HostNameTenant = "wss://ws.msging.net"

	builder := &fakeBuilder{}
	bc := NewBackoffConnector(builder, tenant.NewResolver(loc), &instantClock{}, BackoffConfig{}, nil)

	if _, err := bc.Connect(context.Background(), "user", "token", cfg); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := builder.hosts(); !slices.Equal(got, []string{"ws.msging.net"}) {
		t.Errorf("built hosts = %v, want a single dial of the primary host", got)
	}
}
