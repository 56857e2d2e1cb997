package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"llm-scheduler/config"
	"llm-scheduler/internal/events"
	"llm-scheduler/internal/profile"
	"llm-scheduler/internal/scheduler"
	"llm-scheduler/internal/tracking"
	"llm-scheduler/internal/web"
)

var (
	configPath  = flag.String("config", "config/example.yaml", "Path to configuration file")
	showVersion = flag.Bool("version", false, "Show version information")
	enableWeb   = flag.Bool("web", false, "Enable Web interface")
	webPort     = flag.Int("web-port", 8088, "Web interface port (default: 8088)")

	// Build-time variables (set via ldflags)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"

	startTime = time.Now()
)

func main() {
	flag.Parse()

	// Handle version flag
	if *showVersion {
		fmt.Printf("LLM Account Scheduler\n")
		fmt.Printf("Version: %s\n", version)
		fmt.Printf("Commit: %s\n", commit)
		fmt.Printf("Built: %s\n", date)
		os.Exit(0)
	}

	// Setup initial logger (will be updated when config is loaded)
	logger := setupLogger(config.LoggingConfig{Level: "info", Format: "text"})
	slog.SetDefault(logger)

	// Create configuration watcher
	configWatcher, err := config.NewConfigWatcher(*configPath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create configuration watcher: %v\n", err)
		os.Exit(1)
	}
	defer configWatcher.Close()

	cfg := configWatcher.GetConfig()

	// Apply Web configuration from command line
	if *enableWeb {
		cfg.Web.Enabled = true
	}
	if *webPort != 8088 { // 只有当用户显式指定了端口时才覆盖
		cfg.Web.Port = *webPort
	}

	// Update logger with config settings
	logger = setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Info(fmt.Sprintf("🚀 LLM账号调度服务启动中... (版本: %s)", version))

	// Profile store backed by the YAML configuration, refreshed on reload
	store := profile.NewConfigStore(cfg)

	// Event bus
	eventBus := events.NewEventBus(logger)
	if err := eventBus.Start(); err != nil {
		logger.Error(fmt.Sprintf("❌ 事件总线启动失败: %v", err))
		os.Exit(1)
	}
	defer eventBus.Stop()

	// Outcome tracking (optional)
	var tracker *tracking.OutcomeTracker
	if cfg.Tracking.Enabled {
		tracker, err = tracking.NewOutcomeTracker(cfg.Tracking, cfg.Timezone)
		if err != nil {
			logger.Error(fmt.Sprintf("❌ 结果跟踪器初始化失败: %v", err))
			os.Exit(1)
		}
		defer tracker.Stop()
	}

	// Scheduler registry: one account manager per provider, created lazily
	registry := scheduler.NewRegistry(store, eventBus)
	registry.SetOutcomeTracker(tracker)
	registry.SetDefaultCooldown(cfg.MultiAccount.DefaultCooldown)

	// Selection resolver reads the live config on every call so hot
	// reloads of strategy or provider opt-in take effect immediately
	resolver := scheduler.NewResolver(registry, configWatcher.GetConfig, eventBus)

	// Propagate config reloads to the profile store and notify listeners
	configWatcher.AddReloadCallback(func(newCfg *config.Config) {
		store.UpdateConfig(newCfg)
		eventBus.Publish(events.Event{
			Type:     events.EventConfigChanged,
			Source:   "config_watcher",
			Priority: events.PriorityNormal,
			Data: map[string]interface{}{
				"providers": len(newCfg.Providers),
				"strategy":  newCfg.MultiAccount.Strategy,
			},
		})
	})

	// Web interface
	var webServer *web.WebServer
	if cfg.Web.Enabled {
		webServer = web.NewWebServer(cfg, registry, resolver, store, tracker, eventBus, logger, startTime)
		if err := webServer.Start(); err != nil {
			logger.Error(fmt.Sprintf("❌ Web服务器启动失败: %v", err))
			os.Exit(1)
		}
	}

	logger.Info(fmt.Sprintf("✅ 服务已就绪 (供应商: %d, 调度策略: %s, 多账号: %v)",
		len(cfg.Providers), cfg.MultiAccount.Strategy, cfg.MultiAccount.Enabled))

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan

	logger.Info(fmt.Sprintf("🛑 收到退出信号 (%s)，正在优雅停机...", sig))

	if webServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := webServer.Stop(ctx); err != nil {
			logger.Warn(fmt.Sprintf("⚠️ Web服务器停止失败: %v", err))
		}
	}

	logger.Info("👋 服务已退出")
}

// setupLogger creates a slog.Logger per logging config. File output is
// appended alongside stdout when enabled.
func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var output io.Writer = os.Stdout
	if cfg.FileEnabled && cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0755); err != nil {
			fmt.Fprintf(os.Stderr, "警告：无法创建日志目录: %v\n", err)
		} else if f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644); err != nil {
			fmt.Fprintf(os.Stderr, "警告：无法打开日志文件: %v\n", err)
		} else {
			output = io.MultiWriter(os.Stdout, f)
		}
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler)
}
