// Package broadcast forwards accepted packages to configured sinks after
// persistence. Delivery is best effort: the ingestion path never waits on it
// and never observes sink failures.
package broadcast

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/feedmesh/cachenode/internal/app/domain/datapackage"
	"github.com/feedmesh/cachenode/internal/app/metrics"
	"github.com/feedmesh/cachenode/pkg/logger"
)

// Sink delivers a batch of accepted packages somewhere downstream.
type Sink interface {
	Name() string
	Broadcast(ctx context.Context, pkgs []datapackage.CachedPackage, nodeAddress string) error
}

// Fanout dispatches to every configured sink in parallel. Each sink's
// failure is isolated: it is logged and counted, never propagated, and does
// not affect sibling sinks.
type Fanout struct {
	sinks   []Sink
	log     *logger.Logger
	timeout time.Duration
}

// NewFanout constructs a fan-out over zero or more sinks.
func NewFanout(sinks []Sink, timeout time.Duration, log *logger.Logger) *Fanout {
	if log == nil {
		log = logger.NewDefault("broadcast")
	}
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &Fanout{sinks: sinks, log: log, timeout: timeout}
}

// Broadcast delivers pkgs to every sink and returns once all have settled.
// Callers on the ingestion hot path invoke it from a goroutine.
func (f *Fanout) Broadcast(ctx context.Context, pkgs []datapackage.CachedPackage, nodeAddress string) {
	if len(f.sinks) == 0 || len(pkgs) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, sink := range f.sinks {
		sink := sink
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := f.deliver(ctx, sink, pkgs, nodeAddress); err != nil {
				metrics.BroadcastFailure(sink.Name())
				f.log.WithField("sink", sink.Name()).
					WithField("packages", len(pkgs)).
					WithError(err).
					Warn("broadcast delivery failed")
			}
		}()
	}
	wg.Wait()
}

// deliver shields the fan-out from a panicking sink implementation.
func (f *Fanout) deliver(ctx context.Context, sink Sink, pkgs []datapackage.CachedPackage, nodeAddress string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panicked: %v", r)
		}
	}()
	return sink.Broadcast(ctx, pkgs, nodeAddress)
}
