// Package service loads the data sets shared by the rail_router binaries
// and builds the routing engine over them.
package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/exp/slog"

	"rail_router/pkg/api"
	"rail_router/pkg/config"
	"rail_router/pkg/infra"
	"rail_router/pkg/metrics"
	"rail_router/pkg/occupancy"
	"rail_router/pkg/rollingstock"
	"rail_router/pkg/routing"
	"rail_router/pkg/store"
)

// Dataset is everything a search needs besides the request.
type Dataset struct {
	Infra     *infra.Infra
	Catalog   *rollingstock.Catalog
	Occupancy *occupancy.Table
}

// Load reads the infra, the rolling stock catalog and the occupancy.
func Load(ctx context.Context, cfg *config.Config, log *slog.Logger) (*Dataset, error) {
	start := time.Now()

	// Step 1: Infrastructure.
	in, err := infra.Load(cfg.InfraPath)
	if err != nil {
		return nil, err
	}
	log.Info("infra loaded", "name", in.Name, "tracks", in.NumTracks(), "routes", in.NumRoutes())

	// Step 2: Rolling stock.
	catalog, err := rollingstock.LoadCatalog(cfg.RollingStockPath)
	if err != nil {
		return nil, err
	}
	log.Info("rolling stock loaded", "count", catalog.Len())

	// Step 3: Occupancy.
	occ, err := LoadOccupancy(ctx, cfg, in, log)
	if err != nil {
		return nil, err
	}

	log.Info("dataset ready", "elapsed", time.Since(start).Round(time.Millisecond))
	return &Dataset{Infra: in, Catalog: catalog, Occupancy: occ}, nil
}

// LoadOccupancy reads reservations from the database when one is
// configured, else from the occupancy file. With neither, every block is
// free.
func LoadOccupancy(ctx context.Context, cfg *config.Config, in *infra.Infra, log *slog.Logger) (*occupancy.Table, error) {
	var (
		snap   *occupancy.Snapshot
		source string
	)
	switch {
	case cfg.DatabaseURL != "":
		db, err := store.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := store.Ping(ctx, db); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		if snap, err = store.LoadSnapshot(ctx, db); err != nil {
			return nil, err
		}
		source = "database"
	case cfg.OccupancyPath != "":
		var err error
		if snap, err = occupancy.LoadFile(cfg.OccupancyPath); err != nil {
			return nil, err
		}
		source = cfg.OccupancyPath
	default:
		snap = &occupancy.Snapshot{}
		source = "none"
	}

	t, err := snap.Table(in)
	if err != nil {
		return nil, err
	}
	log.Info("occupancy loaded",
		"source", source,
		"reservations", len(snap.Reservations),
		"work_schedules", len(snap.WorkSchedules),
		"merged", t.Count(),
	)
	return t, nil
}

// NewEngine builds the routing engine with the configured defaults.
func NewEngine(cfg *config.Config, ds *Dataset, log *slog.Logger, m *metrics.Collector) *routing.Engine {
	return routing.NewEngine(ds.Infra, ds.Catalog, ds.Occupancy, routing.Options{
		Logger:  log,
		Metrics: m,
		Defaults: routing.Defaults{
			TimeStep:          cfg.TimeStep,
			MaxDepartureDelay: cfg.MaxDepartureDelay,
			MaxRunTime:        cfg.MaxRunTime,
			Timeout:           cfg.PathfindingTimeout,
			MaxExpansions:     cfg.MaxExpansions,
		},
	})
}

// Stats describes ds for the stats endpoint.
func Stats(ds *Dataset) api.StatsResponse {
	return api.StatsResponse{
		Infra:            ds.Infra.Name,
		NumRoutes:        ds.Infra.NumRoutes(),
		NumTracks:        ds.Infra.NumTracks(),
		NumSwitches:      len(ds.Infra.Switches()),
		NumBufferStops:   len(ds.Infra.BufferStops()),
		NumRollingStocks: ds.Catalog.Len(),
		NumReservations:  ds.Occupancy.Count(),
	}
}

// Reload reloads the occupancy into engine. On failure the engine keeps
// its current occupancy.
func Reload(ctx context.Context, cfg *config.Config, in *infra.Infra, engine *routing.Engine, log *slog.Logger) error {
	t, err := LoadOccupancy(ctx, cfg, in, log)
	if err != nil {
		return err
	}
	engine.SetOccupancy(t)
	return nil
}

// ReloadOnHangup reloads the occupancy on every SIGHUP until ctx is done.
func ReloadOnHangup(ctx context.Context, cfg *config.Config, in *infra.Infra, engine *routing.Engine, log *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				if err := Reload(ctx, cfg, in, engine, log); err != nil {
					log.Error("occupancy reload failed", "err", err)
				}
			}
		}
	}()
}
