// Package app wires the cache node's services together.
package app

import (
	"time"

	"github.com/feedmesh/cachenode/internal/app/domain/oraclestate"
	"github.com/feedmesh/cachenode/internal/app/registry"
	"github.com/feedmesh/cachenode/internal/app/services/broadcast"
	"github.com/feedmesh/cachenode/internal/app/services/ingest"
	"github.com/feedmesh/cachenode/internal/app/services/query"
	"github.com/feedmesh/cachenode/internal/app/storage"
	"github.com/feedmesh/cachenode/internal/app/storage/memory"
	"github.com/feedmesh/cachenode/pkg/logger"
)

// Stores encapsulates persistence dependencies. A nil store defaults to the
// in-memory implementation.
type Stores struct {
	Packages storage.PackageStore
}

// Config carries the tuning knobs the services need.
type Config struct {
	CacheTTL         time.Duration
	MaxAllowedDelay  time.Duration
	BroadcastTimeout time.Duration
}

// Application ties the domain services together.
type Application struct {
	log *logger.Logger

	Packages storage.PackageStore
	Registry registry.Provider
	Fanout   *broadcast.Fanout
	Ingest   *ingest.Service
	Query    *query.Service
}

// New builds a fully initialised application.
func New(stores Stores, reg registry.Provider, sinks []broadcast.Sink, cfg Config, log *logger.Logger) *Application {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if stores.Packages == nil {
		stores.Packages = memory.New()
	}
	if reg == nil {
		reg = registry.NewStatic(oraclestate.NewState(nil, nil))
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = 10 * time.Second
	}
	if cfg.MaxAllowedDelay == 0 {
		cfg.MaxAllowedDelay = 3 * time.Minute
	}

	fanout := broadcast.NewFanout(sinks, cfg.BroadcastTimeout, log.WithField("component", "broadcast"))

	return &Application{
		log:      log,
		Packages: stores.Packages,
		Registry: reg,
		Fanout:   fanout,
		Ingest:   ingest.New(stores.Packages, reg, fanout, log.WithField("component", "ingest")),
		Query:    query.New(stores.Packages, cfg.CacheTTL, cfg.MaxAllowedDelay, log.WithField("component", "query")),
	}
}
