package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/vikashloomba/mcp-client-hub-go/pkg/mcphub"
)

const version = "0.1.0"

var (
	configPath     string
	logLevel       string
	connectTimeout time.Duration
	logJSONRPC     bool
)

// rootCmd is the base command.
var rootCmd = &cobra.Command{
	Use:   "mcphub",
	Short: "Keep a set of MCP tool servers connected and expose their tools",
	Long: "mcphub reads an mcpServers config, connects to every enabled server over\n" +
		"stdio, Streamable HTTP or SSE, and reports or serves the merged toolset.",
	SilenceUsage: true,
}

// Execute runs the root command and exits on error.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = version

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mcp.json", "Server config file (JSON or YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().DurationVar(&connectTimeout, "connect-timeout", 30*time.Second, "Per-server connect timeout")
	rootCmd.PersistentFlags().BoolVar(&logJSONRPC, "log-jsonrpc", false, "Log every MCP message exchanged with servers (implies --log-level debug)")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(callCmd)
	rootCmd.AddCommand(serveCmd)
}

func newLogger() *slog.Logger {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelWarn
	}
	if logJSONRPC {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func loadConfig() (*mcphub.ServerMap, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := mcphub.ParseServerMap(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", configPath, err)
	}
	return cfg, nil
}

// openHub loads the config and starts a hub for it.
func openHub(logger *slog.Logger) (*mcphub.Hub, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return mcphub.NewHub(cfg, hubOptions(logger)), nil
}

func hubOptions(logger *slog.Logger) *mcphub.Options {
	return &mcphub.Options{
		ClientInfo:     &mcp.Implementation{Name: "mcphub", Version: version},
		Dialer:         &mcphub.SDKDialer{Logger: logger, LogJSONRPC: logJSONRPC},
		ConnectTimeout: connectTimeout,
		Logger:         logger,
	}
}

// waitSettled blocks until no server is still starting or ctx is done.
func waitSettled(ctx context.Context, hub *mcphub.Hub) mcphub.HubStatus {
	wake := make(chan struct{}, 1)
	cancel := hub.Subscribe(func(mcphub.HubStatus) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})
	defer cancel()

	for {
		st := hub.Status()
		if !anyStarting(st) {
			return st
		}
		select {
		case <-ctx.Done():
			return hub.Status()
		case <-wake:
		}
	}
}

func anyStarting(st mcphub.HubStatus) bool {
	for _, conn := range st.Connections {
		if conn.Status == mcphub.StateStarting {
			return true
		}
	}
	return false
}

func closeHub(hub *mcphub.Hub, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := hub.Close(ctx); err != nil {
		logger.Warn("close hub", "error", err)
	}
}
