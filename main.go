package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"lexy/pkg/channels"
	_ "lexy/pkg/channels/autoload"
	"lexy/pkg/config"
	"lexy/pkg/gateway"
	"lexy/pkg/handler"
	"lexy/pkg/lexy"
	"lexy/pkg/llm"
	_ "lexy/pkg/llm/autoload"
	"lexy/pkg/monitor"
	"lexy/pkg/session"

	jsoniter "github.com/json-iterator/go"
)

func main() {
	config.LoadDotEnv()

	cfg, sysCfg, err := config.Load(".")
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	monitor.SetupSlog(sysCfg.LogLevel)
	monitor.PrintBanner()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client, err := llm.NewFromConfig(cfg.LLM, sysCfg)
	if err != nil {
		slog.Error("Failed to init LLM client", "error", err)
		os.Exit(1)
	}
	client.SetDebug(sysCfg.DebugChunks)

	store, err := openStore(ctx, cfg, sysCfg)
	if err != nil {
		slog.Error("Failed to open history store", "error", err)
		os.Exit(1)
	}
	sessions := session.NewManager(store, sysCfg.SessionCacheSize)
	defer sessions.Close()

	chain, err := lexy.CreateGraph(client, lexy.Options{
		SystemPrompt:     cfg.SystemPrompt,
		HistoryMaxTokens: sysCfg.HistoryMaxTokens,
		RecursionLimit:   sysCfg.RecursionLimit,
	})
	if err != nil {
		slog.Error("Failed to build graph", "error", err)
		os.Exit(1)
	}

	channelConfigs := cfg.Channels
	if len(channelConfigs) == 0 {
		slog.Warn("No channels configured, serving http only")
		channelConfigs = map[string]jsoniter.RawMessage{"http": jsoniter.RawMessage(`{}`)}
	}

	gw, err := gateway.NewGatewayBuilder().
		WithSystemConfig(sysCfg).
		WithMonitor(monitor.NewCLIMonitor()).
		WithChannel(channels.LoadFromConfig(channelConfigs, channels.Deps{Sessions: sessions, System: sysCfg})...).
		WithHandler(handler.NewChatHandler(chain, sessions, sysCfg)).
		Build()
	if err != nil {
		slog.Error("Failed to build gateway", "error", err)
		os.Exit(1)
	}

	go watchSystemConfig(ctx, "system.json", client)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	slog.Info("Received shutdown signal, stopping services")
	cancel()
	gw.StopAll()
	slog.Info("Bye!")
}

func openStore(ctx context.Context, cfg *config.Config, sysCfg *config.SystemConfig) (session.Store, error) {
	if cfg.DatabaseURL == "" {
		slog.Info("Using file history store", "dir", sysCfg.HistoryDir)
		return session.NewFileStore(sysCfg.HistoryDir)
	}

	pool, err := session.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	store, err := session.NewPostgresStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("Using postgres history store")
	return store, nil
}

// watchSystemConfig re-applies the hot-reloadable engine settings.
func watchSystemConfig(ctx context.Context, path string, client llm.LLMClient) {
	reload := config.WatchConfig(ctx, path)
	for {
		select {
		case <-ctx.Done():
			return
		case changed := <-reload:
			next := config.LoadSystemConfig(changed)
			monitor.SetLevel(next.LogLevel)
			client.SetDebug(next.DebugChunks)
			slog.Info("System config reloaded", "log_level", next.LogLevel, "debug_chunks", next.DebugChunks)
		}
	}
}
