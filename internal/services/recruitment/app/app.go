// Package app wires the recruitment store, telemetry and service from
// configuration.
package app

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gwtt/dagachi/internal/platform/logging"
	"github.com/gwtt/dagachi/internal/platform/telemetry/metrics"
	"github.com/gwtt/dagachi/internal/platform/timeouts"
	"github.com/gwtt/dagachi/internal/services/recruitment/service"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage/memory"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage/postgres"
	"github.com/gwtt/dagachi/internal/services/recruitment/storage/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config selects the store and the ambient settings of a runtime.
type Config struct {
	Driver      string        `env:"DAGACHI_RECRUITMENT_DRIVER" envDefault:"sqlite"`
	DBPath      string        `env:"DAGACHI_RECRUITMENT_DB_PATH"`
	PostgresDSN string        `env:"DAGACHI_RECRUITMENT_POSTGRES_DSN"`
	LockWait    time.Duration `env:"DAGACHI_RECRUITMENT_LOCK_WAIT" envDefault:"5s"`
	Retries     uint          `env:"DAGACHI_RECRUITMENT_RETRIES" envDefault:"3"`
	LogLevel    string        `env:"DAGACHI_LOG_LEVEL" envDefault:"info"`
	// MetricsFile, when set, receives the metrics in text exposition format
	// on Close, for a node_exporter textfile collector.
	MetricsFile string `env:"DAGACHI_METRICS_FILE"`
}

// Normalize fills defaults and lowercases the driver name.
func (c Config) Normalize() Config {
	c.Driver = strings.ToLower(strings.TrimSpace(c.Driver))
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if strings.TrimSpace(c.DBPath) == "" {
		c.DBPath = filepath.Join("data", "recruitment.db")
	}
	if c.LockWait <= 0 {
		c.LockWait = timeouts.LockWait
	}
	if c.Retries == 0 {
		c.Retries = 1
	}
	return c
}

// Validate reports settings the selected driver cannot run with.
func (c Config) Validate() error {
	switch c.Driver {
	case DriverMemory, DriverSQLite:
		return nil
	case DriverPostgres:
		if strings.TrimSpace(c.PostgresDSN) == "" {
			return fmt.Errorf("postgres driver requires DAGACHI_RECRUITMENT_POSTGRES_DSN")
		}
		return nil
	default:
		return fmt.Errorf("unknown storage driver %q", c.Driver)
	}
}

// Backend is a store that also resolves identities.
type Backend interface {
	storage.Store
	storage.IdentityStore
}

// OpenStore opens the backend named by cfg.Driver.
func OpenStore(ctx context.Context, cfg Config) (Backend, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Driver {
	case DriverMemory:
		return memory.New(memory.WithLockWait(cfg.LockWait)), nil
	case DriverPostgres:
		store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.WithLockWait(cfg.LockWait))
		if err != nil {
			return nil, fmt.Errorf("open recruitment postgres store: %w", err)
		}
		return store, nil
	default:
		if dir := filepath.Dir(cfg.DBPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create storage dir: %w", err)
			}
		}
		store, err := sqlite.Open(cfg.DBPath, sqlite.WithLockWait(cfg.LockWait))
		if err != nil {
			return nil, fmt.Errorf("open recruitment sqlite store: %w", err)
		}
		return store, nil
	}
}

// Runtime owns an opened store and the service built over it.
type Runtime struct {
	Service  *service.Service
	Logger   *zap.Logger
	Registry *prometheus.Registry

	store       Backend
	metricsFile string
}

// Open builds a Runtime. Extra service options are applied after the
// runtime's own logger and metrics.
func Open(ctx context.Context, cfg Config, opts ...service.Option) (*Runtime, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.LogLevel,
		zap.String("service", "recruitment"),
		zap.String("driver", cfg.Driver),
	)
	if err != nil {
		return nil, err
	}
	registry := prometheus.NewRegistry()
	recorder, err := metrics.NewRecorder(registry)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	store, err := OpenStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	serviceOpts := append([]service.Option{
		service.WithLogger(logger),
		service.WithMetrics(recorder),
	}, opts...)
	return &Runtime{
		Service:     service.New(store, store, serviceOpts...),
		Logger:      logger,
		Registry:    registry,
		store:       store,
		metricsFile: strings.TrimSpace(cfg.MetricsFile),
	}, nil
}

// Close writes the metrics file when configured and releases the store.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	if r.metricsFile != "" {
		if err := prometheus.WriteToTextfile(r.metricsFile, r.Registry); err != nil {
			log.Printf("write recruitment metrics: %v", err)
		}
	}
	if r.Logger != nil {
		_ = r.Logger.Sync()
	}
	if r.store == nil {
		return nil
	}
	if err := r.store.Close(); err != nil {
		return fmt.Errorf("close recruitment store: %w", err)
	}
	return nil
}
