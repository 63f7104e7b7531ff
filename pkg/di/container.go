// Package di provides dependency injection for the persistence stack: it
// opens the database, provisions the cache, and wires the manager, schema
// synchronizer, and slow-query capture into one container.
package di

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-persistence-bun/cache"
	"github.com/goliatone/go-persistence-bun/internal/bunengine"
	"github.com/goliatone/go-persistence-bun/persistence"
	"github.com/goliatone/go-persistence-bun/slowquery"
)

// Container holds the wired persistence components for one process.
type Container struct {
	cfg          Config
	db           *bun.DB
	config       *persistence.Config
	registry     *persistence.Registry
	manager      *persistence.Manager
	synchronizer *persistence.Synchronizer
}

// NewContainer validates the configuration and wires the full stack: bun
// handle with dialect, shared persistence config with cache provisioning,
// manager over the bun engine, schema synchronizer, and the slow-query hook
// feeding a manager-backed sink.
func NewContainer(cfg Config) (*Container, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sqldb, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("di: opening %s database: %w", cfg.Driver, err)
	}

	var db *bun.DB
	switch cfg.Driver {
	case DriverPostgres:
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		// sqlite serializes writers; a single connection avoids
		// SQLITE_BUSY under the unit of work.
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	pcfg := persistence.NewConfig()
	if cfg.Cache != nil {
		service, err := cache.NewService(*cfg.Cache)
		if err != nil {
			return nil, err
		}
		pcfg.SetCache(service)
	} else {
		pcfg.SetCache(nil)
	}

	registry := persistence.NewRegistry()
	engine := bunengine.New(db, pcfg, registry)
	manager := persistence.New(engine, pcfg, registry)

	if _, err := slowquery.Register(manager); err != nil {
		return nil, err
	}

	if cfg.SlowQueryThreshold > 0 {
		hook, err := slowquery.NewHook(slowquery.Options{
			Threshold: cfg.SlowQueryThreshold,
			Sink:      slowquery.NewStore(manager),
			Logger:    pcfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		db.AddQueryHook(hook)
	}

	synchronizer := persistence.NewSynchronizer(
		bunengine.NewSchemaTool(db), registry, pcfg.Logger)

	return &Container{
		cfg:          cfg,
		db:           db,
		config:       pcfg,
		registry:     registry,
		manager:      manager,
		synchronizer: synchronizer,
	}, nil
}

// NewContainerWithDefaults wires a container from DefaultConfig.
func NewContainerWithDefaults() (*Container, error) {
	return NewContainer(DefaultConfig())
}

// Manager returns the singleton persistence manager.
func (c *Container) Manager() *persistence.Manager { return c.manager }

// DB returns the underlying bun handle for advanced use cases.
func (c *Container) DB() *bun.DB { return c.db }

// Config returns the shared persistence configuration instance.
func (c *Container) Config() *persistence.Config { return c.config }

// Registry returns the metadata registry used by the manager.
func (c *Container) Registry() *persistence.Registry { return c.registry }

// Synchronizer returns the schema synchronizer bound to this container.
func (c *Container) Synchronizer() *persistence.Synchronizer { return c.synchronizer }

// Close releases the underlying database handle.
func (c *Container) Close() error { return c.db.Close() }
