// Package main is the entry point for the acpbridge binary. acpbridge speaks
// ACP on stdio toward the client and drives an engine subprocess per session,
// so stdout carries nothing but protocol frames.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	acp "github.com/coder/acp-go-sdk"
	"go.uber.org/zap"

	"github.com/kandev/acpbridge/internal/bridge"
	"github.com/kandev/acpbridge/internal/common/config"
	"github.com/kandev/acpbridge/internal/common/logger"
	"github.com/kandev/acpbridge/internal/credentials"
	"github.com/kandev/acpbridge/internal/mcpbridge"
	"github.com/kandev/acpbridge/internal/settings"
	"github.com/kandev/acpbridge/internal/tracing"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// stdout belongs to the protocol, so logs go to stderr or a file.
	log, err := logger.NewLogger(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		OutputPath: cfg.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	// Warms up the provider; stays a no-op unless OTLP is configured.
	tracing.Tracer("acpbridge")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(ctx)
	}()

	log.Info("starting acpbridge",
		zap.String("engine_command", cfg.Engine.Command),
		zap.String("default_mode", cfg.Permissions.DefaultMode))

	credPath := cfg.Credentials.File
	if credPath == "" {
		credPath, err = credentials.DefaultPath()
		if err != nil {
			log.Error("failed to resolve credential path", zap.Error(err))
			os.Exit(1)
		}
	}
	creds := credentials.NewStore(credPath, log)

	settingsMgr, err := settings.Load(cfg.Engine.SettingsPath, log)
	if err != nil {
		log.Error("failed to load settings", zap.Error(err))
		os.Exit(1)
	}

	agent := bridge.NewAgent(cfg, creds, settingsMgr, log)
	conn := acp.NewAgentSideConnection(agent, os.Stdout, os.Stdin)
	// The SDK logs through slog; protocol-level noise stays on stderr.
	conn.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))
	agent.SetConnection(conn)

	var mcpServer *mcpbridge.Server
	if cfg.MCP.Enabled {
		mcpServer = mcpbridge.New(cfg.MCP, conn, agent,
			acp.FileSystemCapability{ReadTextFile: true, WriteTextFile: true}, log)
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := mcpServer.Start(ctx); err != nil {
			log.Warn("MCP server failed to start", zap.Error(err))
			mcpServer = nil
		}
		cancel()

		if mcpServer != nil {
			configDir, err := os.MkdirTemp("", "acpbridge-mcp-")
			if err == nil {
				if path, werr := mcpServer.WriteEngineConfig(configDir); werr == nil && path != "" {
					agent.SetMCPConfigPath(path)
				}
			}
		}
	}

	// Exit on client disconnect or a termination signal, whichever first.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-conn.Done():
		log.Info("client disconnected")
	case sig := <-quit:
		log.Info("received signal", zap.String("signal", sig.String()))
	}

	agent.Close()
	if mcpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = mcpServer.Stop(ctx)
		cancel()
	}
	log.Info("acpbridge stopped")
}
