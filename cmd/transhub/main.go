package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"transhub/internal/config"
	"transhub/internal/coordinator"
	"transhub/internal/logger"
	"transhub/internal/scheduler"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger.Init(logger.ParseLevel(cfg.Logging.Level), cfg.Logging.Format)

	coord := coordinator.New(cfg)
	if err := coord.Initialize(context.Background()); err != nil {
		log.Fatalf("initialize coordinator: %v", err)
	}
	defer coord.Close()

	if len(cfg.WorkerLangs) == 0 {
		logger.Warn("no worker languages configured, idle worker", "module", "main", "action", "init", "resource", "worker", "result", "ok")
	}

	sched := scheduler.New(coord, cfg.WorkerLangs, cfg.WorkerInterval)
	sched.Start()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down", "module", "main", "action", "shutdown", "resource", "worker", "result", "ok")
	sched.Stop()
}
