// Package config loads the runtime settings shared by the rail_router
// binaries from the environment, after reading an optional .env file.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr  string
	MetricsAddr string
	CORSOrigin  string

	InfraPath        string
	RollingStockPath string
	OccupancyPath    string
	DatabaseURL      string

	NATSURL     string
	NATSSubject string
	NATSQueue   string

	LogLevel  string
	LogFormat string

	// STDCM defaults, in seconds.
	TimeStep          float64
	MaxDepartureDelay float64
	MaxRunTime        float64

	PathfindingTimeout time.Duration
	RequestTimeout     time.Duration
	MaxConcurrent      int
	MaxExpansions      int
}

// Load reads .env (ignored if missing) then the RAIL_* variables.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:       getenvDefault("RAIL_LISTEN_ADDR", ":8080"),
		MetricsAddr:      os.Getenv("RAIL_METRICS_ADDR"),
		CORSOrigin:       os.Getenv("RAIL_CORS_ORIGIN"),
		InfraPath:        getenvDefault("RAIL_INFRA_PATH", "infra.yaml"),
		RollingStockPath: getenvDefault("RAIL_ROLLING_STOCK_PATH", "rolling_stock.yaml"),
		OccupancyPath:    os.Getenv("RAIL_OCCUPANCY_PATH"),
		DatabaseURL:      os.Getenv("RAIL_DATABASE_URL"),
		NATSURL:          getenvDefault("RAIL_NATS_URL", "nats://127.0.0.1:4222"),
		NATSSubject:      getenvDefault("RAIL_NATS_SUBJECT", "rail.requests"),
		NATSQueue:        getenvDefault("RAIL_NATS_QUEUE", "rail-workers"),
		LogLevel:         getenvDefault("RAIL_LOG_LEVEL", "info"),
		LogFormat:        getenvDefault("RAIL_LOG_FORMAT", "text"),
	}

	var err error
	if cfg.TimeStep, err = positiveFloat("RAIL_TIME_STEP", 2); err != nil {
		return nil, err
	}
	if cfg.MaxDepartureDelay, err = nonNegativeFloat("RAIL_MAX_DEPARTURE_DELAY", 7200); err != nil {
		return nil, err
	}
	// Zero leaves the run time unbounded.
	if cfg.MaxRunTime, err = nonNegativeFloat("RAIL_MAX_RUN_TIME", 0); err != nil {
		return nil, err
	}
	if cfg.PathfindingTimeout, err = duration("RAIL_PATHFINDING_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = duration("RAIL_REQUEST_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.MaxConcurrent, err = positiveInt("RAIL_MAX_CONCURRENT", runtime.NumCPU()*2); err != nil {
		return nil, err
	}
	if cfg.MaxExpansions, err = nonNegativeInt("RAIL_MAX_EXPANSIONS", 0); err != nil {
		return nil, err
	}

	switch strings.ToLower(cfg.LogFormat) {
	case "text", "json":
	default:
		return nil, fmt.Errorf("invalid RAIL_LOG_FORMAT: %q", cfg.LogFormat)
	}
	return cfg, nil
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func positiveFloat(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return f, nil
}

func nonNegativeFloat(k string, def float64) (float64, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return f, nil
}

func positiveInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

func nonNegativeInt(k string, def int) (int, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return n, nil
}

// duration accepts Go durations ("45s") or a bare number of seconds.
func duration(k string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(k)
	if v == "" {
		return def, nil
	}
	if sec, err := strconv.Atoi(v); err == nil {
		if sec <= 0 {
			return 0, fmt.Errorf("invalid %s: %q", k, v)
		}
		return time.Duration(sec) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", k, v)
	}
	return d, nil
}
