package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"docbot/internal/channel"
	"docbot/internal/mcp"
	"docbot/internal/tui"
)

func chatCmd() *cobra.Command {
	var (
		k         int
		sessionID string
		noSpinner bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive question-and-answer session in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			if w, err := p.watcher(); err != nil {
				return fmt.Errorf("watcher: %w", err)
			} else if w != nil {
				go w.Run(ctx)
			}

			fmt.Println("docbot · " + p.summary())
			cli := channel.NewCLI(channel.CLIConfig{
				Answerer:  p.assembler,
				Topics:    p.engine,
				K:         k,
				SessionID: sessionID,
				Spinner:   !noSpinner,
				Logger:    logger,
			})
			return cli.Start(ctx)
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of chunks to retrieve (default: knowledge.searchTopK)")
	cmd.Flags().StringVar(&sessionID, "session", "", "resume a session id (default: a new session)")
	cmd.Flags().BoolVar(&noSpinner, "no-spinner", false, "disable the waiting spinner")
	return cmd
}

func tuiCmd() *cobra.Command {
	var k int
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Open the full-screen terminal UI",
		RunE: func(cmd *cobra.Command, args []string) error {
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

			model := tui.New(ctx, tui.Config{
				Answerer:  p.assembler,
				K:         k,
				SessionID: "tui:" + uuid.NewString(),
				Summary:   p.summary(),
			})
			_, err = tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			return err
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 0, "number of chunks to retrieve (default: knowledge.searchTopK)")
	return cmd
}

func mcpCmd() *cobra.Command {
	var (
		transport string
		addr      string
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve the corpus as Model Context Protocol tools",
		Long: `Exposes search, fuzzy_search, ask and status as MCP tools. The stdio
transport is meant to be launched by an MCP client; logs go to stderr.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if transport == "" {
				transport = cfg.MCP.Transport
			}
			if addr == "" {
				addr = cfg.MCP.Addr
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := buildPipeline(ctx, cfg, pipelineOptions{ingest: true})
			if err != nil {
				return err
			}
			defer p.Close()

			if w, err := p.watcher(); err != nil {
				return fmt.Errorf("watcher: %w", err)
			} else if w != nil {
				go w.Run(ctx)
			}

			srv, err := mcp.NewServer(mcpPorts(p), logger)
			if err != nil {
				return err
			}
			switch transport {
			case "http":
				return srv.RunHTTP(ctx, addr)
			case "stdio", "":
				return srv.Run(ctx)
			default:
				return fmt.Errorf("unknown mcp transport %q (want stdio or http)", transport)
			}
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "", "stdio or http (default: mcp.transport)")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address for http (default: mcp.addr)")
	return cmd
}
