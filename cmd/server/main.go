package main

import (
	"context"
	"flag"
	"os"

	"rail_router/pkg/api"
	"rail_router/pkg/config"
	"rail_router/pkg/logging"
	"rail_router/pkg/metrics"
	"rail_router/pkg/service"
)

func main() {
	infraPath := flag.String("infra", "", "Path to infra YAML (overrides RAIL_INFRA_PATH)")
	addr := flag.String("addr", "", "HTTP listen address (overrides RAIL_LISTEN_ADDR)")
	corsOrigin := flag.String("cors-origin", "", "CORS allowed origin (overrides RAIL_CORS_ORIGIN)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	if *infraPath != "" {
		cfg.InfraPath = *infraPath
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *corsOrigin != "" {
		cfg.CORSOrigin = *corsOrigin
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	if err != nil {
		os.Stderr.WriteString("logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ds, err := service.Load(ctx, cfg, log)
	if err != nil {
		log.Error("failed to load dataset", "err", err)
		os.Exit(1)
	}

	m := metrics.NewCollector()
	engine := service.NewEngine(cfg, ds, log, m)
	service.ReloadOnHangup(ctx, cfg, ds.Infra, engine, log)

	// Setup HTTP server. /metrics is also served on its own address when
	// one is configured.
	if cfg.MetricsAddr != "" {
		defer m.Serve(cfg.MetricsAddr, log).Close()
	}
	srvCfg := api.DefaultConfig(cfg.ListenAddr)
	srvCfg.CORSOrigin = cfg.CORSOrigin
	srvCfg.RequestTimeout = cfg.RequestTimeout
	srvCfg.WriteTimeout = cfg.RequestTimeout + srvCfg.ReadTimeout
	srvCfg.MaxConcurrent = cfg.MaxConcurrent

	handlers := api.NewHandlers(engine, service.Stats(ds))
	srv := api.NewServer(srvCfg, handlers, log, m)

	if err := api.ListenAndServe(srv, log); err != nil {
		log.Error("server stopped", "err", err)
		os.Exit(1)
	}
}
