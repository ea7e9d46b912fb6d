package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"docbot/internal/channel"
	"docbot/internal/config"
	"docbot/internal/domain"
	"docbot/internal/mcp"
)

const (
	shutdownTimeout      = 10 * time.Second
	cacheCompactInterval = 15 * time.Minute
)

func serveCmd() *cobra.Command {
	var withMCP bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Index the data directory and start every enabled surface",
		Long: `Builds the corpus from the data directory, then starts the HTTP API and
any enabled chat bots (Telegram, Slack, Discord). With --mcp, or when
mcp.transport is "http", the MCP tool server is served over streamable HTTP
as well. Press Ctrl+C to stop.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(withMCP)
		},
	}
	cmd.Flags().BoolVar(&withMCP, "mcp", false, "also serve MCP over HTTP at mcp.addr")
	return cmd
}

func runServe(withMCP bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := buildPipeline(ctx, cfg, pipelineOptions{ingest: true})
	if err != nil {
		return err
	}
	defer p.Close()

	var wg sync.WaitGroup
	start := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil {
				logger.Error("surface stopped", "surface", name, "err", err)
			}
		}()
	}

	w, err := p.watcher()
	if err != nil {
		return fmt.Errorf("watcher: %w", err)
	}
	if w != nil {
		start("watch", w.Run)
		logger.Info("watching data directory", "dir", cfg.General.DataDir)
	}

	start("cache-compaction", func(ctx context.Context) error { return p.compactCache(ctx, cacheCompactInterval) })

	channels := buildChannels(cfg, p)
	for _, ch := range channels {
		start(ch.Name(), ch.Start)
		logger.Info("channel enabled", "channel", ch.Name())
	}

	if withMCP || cfg.MCP.Transport == "http" {
		srv, err := mcp.NewServer(mcpPorts(p), logger)
		if err != nil {
			return fmt.Errorf("mcp server: %w", err)
		}
		start("mcp", func(ctx context.Context) error { return srv.RunHTTP(ctx, cfg.MCP.Addr) })
		logger.Info("mcp server enabled", "addr", cfg.MCP.Addr)
	}

	if len(channels) == 0 && w == nil {
		logger.Warn("no channel enabled; enable channels.web or a bot in the config")
	}
	logger.Info("docbot started. Press Ctrl+C to stop.", "version", version)

	// Block until shutdown signal
	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Every surface drains on ctx cancellation; Stop is the forced path.
	done := make(chan struct{})
	go func() {
		defer close(done)
		wg.Wait()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		for _, ch := range channels {
			if err := ch.Stop(); err != nil {
				logger.Warn("channel stop failed", "channel", ch.Name(), "err", err)
			}
		}
		return fmt.Errorf("shutdown timed out")
	}
}

// buildChannels constructs every enabled surface. Bots without credentials
// are skipped with a warning rather than failing the whole server.
func buildChannels(cfg *config.Config, p *pipeline) []domain.Channel {
	var out []domain.Channel

	if web := cfg.Channels.Web; web.Enabled {
		metricsEndpoint := ""
		if cfg.Metrics.Enabled {
			metricsEndpoint = cfg.Metrics.Endpoint
		}
		out = append(out, channel.NewWeb(channel.WebConfig{
			Host:            web.Host,
			Port:            web.Port,
			Answerer:        p.assembler,
			Knowledge:       p.engine,
			History:         p.ledger,
			Feedback:        p.ledger,
			RateLimit:       web.RateLimit,
			RateBurst:       web.RateBurst,
			MetricsEndpoint: metricsEndpoint,
			Config:          cfg,
			ConfigPath:      resolveConfigPath(),
			Logger:          logger,
		}))
	}

	handler := func(k int) *channel.BotHandler {
		return channel.NewBotHandler(channel.BotHandlerConfig{
			Answerer: p.assembler,
			Topics:   p.engine,
			K:        k,
			Logger:   logger,
		})
	}

	if tg := cfg.Channels.Telegram; tg.Enabled {
		if tg.Token == "" {
			logger.Warn("telegram enabled without a token, skipping")
		} else {
			out = append(out, channel.NewTelegram(channel.TelegramConfig{
				Token:     tg.Token,
				AllowFrom: tg.AllowFrom,
				Handler:   handler(tg.TopK),
				Logger:    logger,
			}))
		}
	}

	if sl := cfg.Channels.Slack; sl.Enabled {
		if sl.BotToken == "" || sl.AppToken == "" {
			logger.Warn("slack enabled without bot and app tokens, skipping")
		} else {
			out = append(out, channel.NewSlack(channel.SlackConfig{
				BotToken:  sl.BotToken,
				AppToken:  sl.AppToken,
				AllowFrom: sl.AllowFrom,
				Handler:   handler(0),
				Logger:    logger,
			}))
		}
	}

	if dc := cfg.Channels.Discord; dc.Enabled {
		if dc.Token == "" {
			logger.Warn("discord enabled without a token, skipping")
		} else {
			out = append(out, channel.NewDiscord(channel.DiscordConfig{
				Token:     dc.Token,
				GuildID:   dc.GuildID,
				AllowFrom: dc.AllowFrom,
				Handler:   handler(0),
				Logger:    logger,
			}))
		}
	}

	return out
}

func mcpPorts(p *pipeline) *mcp.Ports {
	return &mcp.Ports{
		Retriever: p.engine,
		Corpus:    p.engine,
		Answerer:  p.assembler,
	}
}
