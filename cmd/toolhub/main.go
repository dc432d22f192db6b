package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	mcpapi "github.com/vikashloomba/mcp-toolserver-manager-go/pkg/mcp-api"
	mcpgateway "github.com/vikashloomba/mcp-toolserver-manager-go/pkg/mcp-gateway"
	"github.com/vikashloomba/mcp-toolserver-manager-go/pkg/mcpconfig"
	"github.com/vikashloomba/mcp-toolserver-manager-go/pkg/mcpmgr"
)

func main() {
	// OS environment wins over .env values.
	_ = godotenv.Load()

	var (
		configPath  = flag.String("config", getEnvOrDefault("TOOLHUB_CONFIG", "toolhub.yaml"), "path to the YAML server config")
		apiAddr     = flag.String("addr", getEnvOrDefault("TOOLHUB_ADDR", ":8080"), "HTTP API listen address")
		gatewayAddr = flag.String("gateway-addr", os.Getenv("TOOLHUB_GATEWAY_ADDR"), "MCP gateway listen address; empty disables the gateway")
		watch       = flag.Bool("watch", true, "reload the config file when it changes")
		logJSONRPC  = flag.Bool("log-jsonrpc", false, "log every JSON-RPC message exchanged with tool servers")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(os.Getenv("LOG_LEVEL"))}))
	slog.SetDefault(logger)

	if err := run(*configPath, *apiAddr, *gatewayAddr, *watch, *logJSONRPC, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("toolhub stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath, apiAddr, gatewayAddr string, watch, logJSONRPC bool, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := mcpconfig.Load(configPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	dialer := &mcpmgr.SDKDialer{
		Implementation: &mcp.Implementation{Name: "toolhub", Version: "1.0.0"},
	}
	if logJSONRPC {
		dialer.RPCLogger = func(ev mcpmgr.RPCLogEvent) {
			logger.Debug("jsonrpc", "server", ev.ServerID, "direction", string(ev.Direction), "message", string(ev.Message))
		}
	}
	manager := mcpmgr.NewManager(&mcpmgr.ManagerOptions{
		Dialer:  dialer,
		Logger:  logger,
		Metrics: mcpmgr.NewMetrics(reg),
	})
	manager.OnServerError(func(server string, err error) {
		logger.Warn("tool server unavailable", "server", server, "error", err)
	})

	if err := manager.Initialize(ctx, cfg); err != nil {
		return err
	}
	status := manager.GetStatus()
	logger.Info("manager initialized",
		"servers", status.TotalServers,
		"connected", status.ConnectedServers,
		"tools", status.TotalTools,
	)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := manager.Shutdown(shutdownCtx); err != nil {
			logger.Warn("manager shutdown", "error", err)
		}
	}()

	api, err := mcpapi.NewServer(manager, &mcpapi.Options{
		Addr:     apiAddr,
		Gatherer: reg,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return api.ListenAndServe(gctx)
	})

	if gatewayAddr != "" {
		gateway, err := mcpgateway.NewGateway(manager, &mcpgateway.Options{
			Addr:   gatewayAddr,
			Logger: logger,
			Streamable: mcp.StreamableHTTPOptions{
				JSONResponse: true,
			},
		})
		if err != nil {
			return err
		}
		defer gateway.Close()
		g.Go(func() error {
			return gateway.ListenAndServe(gctx)
		})
	}

	if watch {
		g.Go(func() error {
			return mcpconfig.Watch(gctx, configPath, func(next mcpmgr.GlobalConfig) {
				logger.Info("config changed, applying", "path", configPath)
				if err := manager.UpdateConfig(gctx, next); err != nil {
					logger.Error("apply config", "error", err)
				}
			}, func(err error) {
				logger.Warn("config reload failed, keeping previous config", "error", err)
			})
		})
	}

	return g.Wait()
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
