package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sebas/callrouter/internal/banner"
	"github.com/sebas/callrouter/internal/callrouter/app"
	"github.com/sebas/callrouter/internal/callrouter/config"
	"github.com/sebas/callrouter/internal/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(2)
	}

	// Initialize logger
	logger.SetLevel(cfg.LogLevel)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			slog.Error("Failed to open log file", "path", cfg.LogFile, "error", err)
			os.Exit(1)
		}
		defer f.Close()
		logger.InitLoggerWithLevels(map[io.Writer]slog.Level{
			os.Stdout: logger.ParseLevel(cfg.LogLevel),
			f:         slog.LevelDebug,
		})
	} else {
		logger.InitLogger(os.Stdout)
	}

	router, err := app.NewRouter(cfg, slog.Default())
	if err != nil {
		slog.Error("Failed to create call router", "error", err)
		os.Exit(1)
	}
	defer router.Close()

	banner.Print("Call Router", configLines(cfg))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := router.Start(ctx); err != nil {
		slog.Error("Call router stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Call router stopped")
}

func configLines(cfg *config.Config) []banner.ConfigLine {
	directory := cfg.DirectoryURL
	if directory == "" {
		directory = "disabled"
	}
	grpcAddr := cfg.GRPCAddr
	if grpcAddr == "" {
		grpcAddr = "disabled"
	}
	operators := "all " + cfg.Technology + " endpoints"
	if len(cfg.Office.Operators) > 0 {
		operators = strings.Join(cfg.Office.Operators, ", ")
	}
	office := cfg.OfficePath
	if office == "" {
		office = "defaults"
	}

	return []banner.ConfigLine{
		{Label: "ARI", Value: cfg.ARIURL},
		{Label: "Application", Value: cfg.ARIApp},
		{Label: "Operators", Value: operators},
		{Label: "Office", Value: office},
		{Label: "Directory", Value: directory},
		{Label: "API", Value: cfg.APIAddr},
		{Label: "Watch stream", Value: grpcAddr},
		{Label: "Log level", Value: logger.GetLevel()},
	}
}
