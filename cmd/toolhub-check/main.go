package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/vikashloomba/mcp-toolserver-manager-go/pkg/mcpconfig"
	"github.com/vikashloomba/mcp-toolserver-manager-go/pkg/mcpmgr"
)

// toolhub-check connects to every configured server once, prints the
// resulting status and tool catalog, and exits non-zero when unhealthy.
func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", "toolhub.yaml", "path to the YAML server config")
	timeout := flag.Duration("timeout", 60*time.Second, "overall deadline for connecting")
	asJSON := flag.Bool("json", false, "print the status as JSON")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := mcpconfig.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(2)
	}
	// One attempt per server; retries would only delay the report.
	cfg.RetryAttempts = 1

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	manager := mcpmgr.NewManager(&mcpmgr.ManagerOptions{Logger: logger})
	if err := manager.Initialize(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "initialize: %v\n", err)
		os.Exit(2)
	}
	defer func() {
		if err := manager.Shutdown(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		}
	}()

	status := manager.GetStatus()
	health := manager.HealthCheck()
	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"status": status, "health": health})
	} else {
		for _, server := range status.Servers {
			fmt.Printf("Configured server: %s\n", server.Name)
			fmt.Printf("Status: %s (%d tools)\n", server.State, server.ToolCount)
			if server.LastError != "" {
				fmt.Printf("Error: %s\n", server.LastError)
			}
		}
		for _, entry := range manager.Catalog().Entries() {
			fmt.Printf("  %s\t%s\n", entry.Name, entry.Tool.Description)
		}
		for _, issue := range health.Issues {
			fmt.Printf("Issue: %s\n", issue)
		}
	}

	if !health.Healthy {
		_ = manager.Shutdown(context.Background())
		os.Exit(1)
	}
}
