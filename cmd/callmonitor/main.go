package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/sebas/callrouter/internal/callrouter/notify"
	"github.com/sebas/callrouter/internal/monitor/client"
	"github.com/sebas/callrouter/internal/monitor/config"
	"github.com/sebas/callrouter/internal/monitor/tui"
)

func main() {
	// The TUI owns stdout; logs go to stderr
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := grpc.NewClient(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		slog.Error("Failed to create watch client", "addr", cfg.GRPCAddr, "error", err)
		os.Exit(1)
	}
	defer conn.Close()

	dial := func() (tui.Receiver, error) {
		watch, err := notify.Watch(ctx, conn)
		if err != nil {
			return nil, err
		}
		return watch, nil
	}

	model := tui.New(dial, client.NewClient(cfg.APIAddr), cfg.Refresh)
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		slog.Error("Monitor stopped with error", "error", err)
		os.Exit(1)
	}
}
