package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rickgao/blip-connect/internal/clock"
	"github.com/rickgao/blip-connect/internal/config"
	"github.com/rickgao/blip-connect/internal/connection"
	"github.com/rickgao/blip-connect/internal/database"
	"github.com/rickgao/blip-connect/internal/identity"
	"github.com/rickgao/blip-connect/internal/journal"
	"github.com/rickgao/blip-connect/internal/lime"
	"github.com/rickgao/blip-connect/internal/tenant"
	"github.com/rickgao/blip-connect/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/blipctl.local.yaml", "path to config file")
	method := flag.String("method", lime.MethodGet, "command method")
	uri := flag.String("uri", "/account", "command uri")
	mediaType := flag.String("type", "", "resource media type")
	resource := flag.String("resource", "", "resource JSON")
	timeout := flag.Duration("timeout", 0, "command timeout (0 uses connection.command_timeout)")
	identifier := flag.String("identifier", "", "identifier (overrides "+identity.EnvIdentifier+")")
	token := flag.String("token", "", "token (overrides "+identity.EnvToken+")")
	authentication := flag.String("authentication", "", "attribution (overrides "+identity.EnvAuthentication+")")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("starting blipctl",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
	)

	creds := identity.FromEnv()
	if *identifier != "" {
		creds.Identifier = *identifier
	}
	if *token != "" {
		creds.Token = *token
	}
	if *authentication != "" {
		creds.Authentication = *authentication
	}
	if !creds.IsUndefined() {
		if err := creds.Validate(); err != nil {
			logger.Error("invalid credentials", "error", err)
			os.Exit(1)
		}
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	opts := []connection.Option{
		connection.WithLogger(logger),
		connection.WithCommandTimeout(cfg.Connection.CommandTimeout),
	}

	if cfg.Journal.Enabled {
		db := cfg.Journal.Database
		logger.Info("connecting to journal database",
			"host", db.Host,
			"port", db.Port,
			"database", db.Name,
		)

		pool, err := database.Connect(ctx, db)
		if err != nil {
			logger.Error("failed to connect to journal database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()

		j := journal.New(pool)
		if err := j.EnsureSchema(ctx); err != nil {
			logger.Error("failed to prepare journal", "error", err)
			os.Exit(1)
		}
		opts = append(opts, connection.WithRecorder(j))
	}

	location, err := tenant.ParseLocation(cfg.Portal.Origin)
	if err != nil {
		logger.Error("invalid portal origin", "origin", cfg.Portal.Origin, "error", err)
		os.Exit(1)
	}

	connector := connection.NewBackoffConnector(
		connection.NewLimeBuilder(cfg.Connection, logger),
		tenant.NewResolver(location),
		clock.Real{},
		connection.BackoffConfig{
			MaxAttempts: cfg.Connection.MaxConnectAttempts,
			BaseDelay:   cfg.Connection.BackoffBase,
		},
		logger,
	)
	coordinator := connection.NewCoordinator(connector, cfg.Blip, opts...)
	defer coordinator.Close()

	logger.Info("connecting",
		"identity", creds.Identifier,
		"host", cfg.Blip.Websocket.HostName,
		"tenant", cfg.Blip.Tenant,
	)

	if err := coordinator.Connect(ctx, creds.Identifier, creds.Token, creds.Authentication); err != nil {
		logger.Error("failed to connect", "error", err)
		os.Exit(1)
	}
	if err := coordinator.WaitForInitialization(ctx); err != nil {
		logger.Error("connection not initialized", "error", err)
		os.Exit(1)
	}

	cmd := lime.Command{
		Method: *method,
		URI:    *uri,
		Type:   *mediaType,
	}
	if *resource != "" {
		if !json.Valid([]byte(*resource)) {
			logger.Error("resource is not valid JSON")
			os.Exit(1)
		}
		cmd.Resource = json.RawMessage(*resource)
	}

	start := time.Now()
	resp, err := coordinator.ProcessCommand(ctx, cmd, *timeout)
	if err != nil {
		logger.Error("command failed",
			"method", cmd.Method,
			"uri", cmd.URI,
			"duration", time.Since(start),
			"error", err,
		)
		os.Exit(1)
	}

	logger.Info("command completed",
		"id", resp.ID,
		"status", resp.Status,
		"duration", time.Since(start),
	)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		logger.Error("failed to write response", "error", err)
		os.Exit(1)
	}
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
