package main

import (
	"log/slog"

	"scribed/internal/config"
	"scribed/internal/daemon"
	"scribed/internal/discovery"
	"scribed/internal/queue"
	"scribed/internal/reclaim"
	"scribed/internal/workflow"
)

func buildDaemon(cfg *config.Config, store *queue.Store, logger *slog.Logger) (*daemon.Daemon, error) {
	reclaimer := reclaim.New(cfg, store, logger)
	manager := workflow.NewManager(cfg, store, reclaimer, logger)
	monitor := discovery.NewMonitor(cfg, store, logger)
	return daemon.New(cfg, store, manager, monitor, reclaimer, logger)
}
