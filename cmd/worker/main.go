package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"rail_router/pkg/config"
	"rail_router/pkg/logging"
	"rail_router/pkg/metrics"
	"rail_router/pkg/service"
	"rail_router/pkg/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		os.Stderr.WriteString("logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	log = log.With("component", "worker")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ds, err := service.Load(ctx, cfg, log)
	if err != nil {
		log.Error("failed to load dataset", "err", err)
		os.Exit(1)
	}

	m := metrics.NewCollector()
	if cfg.MetricsAddr != "" {
		defer m.Serve(cfg.MetricsAddr, log).Close()
	}
	engine := service.NewEngine(cfg, ds, log, m)
	service.ReloadOnHangup(ctx, cfg, ds.Infra, engine, log)

	nc, err := worker.Connect(cfg.NATSURL, log, m)
	if err != nil {
		log.Error("failed to connect to nats", "url", cfg.NATSURL, "err", err)
		os.Exit(1)
	}
	h := worker.NewHandler(engine, log, m, cfg.RequestTimeout)
	w, err := worker.Start(nc, cfg.NATSSubject, cfg.NATSQueue, h, log)
	if err != nil {
		log.Error("failed to start worker", "err", err)
		nc.Close()
		os.Exit(1)
	}

	<-ctx.Done()
	log.Info("shutting down")
	if err := w.Close(); err != nil {
		log.Error("drain", "err", err)
	}
}
