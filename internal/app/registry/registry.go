// Package registry supplies oracle-state snapshots: the set of data services
// and the reporting nodes registered to them. Services receive immutable
// snapshots; the provider refreshes them on its own cadence.
package registry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/feedmesh/cachenode/internal/app/domain/oraclestate"
	"github.com/feedmesh/cachenode/pkg/logger"
)

// Provider hands out the current oracle-state snapshot.
type Provider interface {
	Current() oraclestate.State
}

// Static is a fixed-snapshot provider, used in tests and single-tenant
// deployments.
type Static struct {
	state oraclestate.State
}

// NewStatic wraps a snapshot.
func NewStatic(state oraclestate.State) *Static {
	return &Static{state: state}
}

func (p *Static) Current() oraclestate.State { return p.state }

// stateFile is the on-disk registry document.
type stateFile struct {
	DataServices []oraclestate.DataService `yaml:"dataServices"`
	Nodes        []oraclestate.Node        `yaml:"nodes"`
}

// FileProvider loads the registry from a YAML file and refreshes it on an
// interval. A failed refresh keeps the previous snapshot.
type FileProvider struct {
	path     string
	interval time.Duration
	log      *logger.Logger
	state    atomic.Value // oraclestate.State

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewFileProvider loads the file once, eagerly, and returns the provider.
func NewFileProvider(path string, interval time.Duration, log *logger.Logger) (*FileProvider, error) {
	if log == nil {
		log = logger.NewDefault("registry")
	}
	if interval == 0 {
		interval = time.Minute
	}
	p := &FileProvider{path: path, interval: interval, log: log}
	state, err := loadState(path)
	if err != nil {
		return nil, fmt.Errorf("load oracle state: %w", err)
	}
	p.state.Store(state)
	return p, nil
}

func (p *FileProvider) Current() oraclestate.State {
	return p.state.Load().(oraclestate.State)
}

// Start begins the background refresh loop.
func (p *FileProvider) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				p.refresh()
			}
		}
	}()

	p.log.WithField("path", p.path).Info("oracle state refresh loop started")
	return nil
}

// Stop halts the refresh loop and waits for it to exit.
func (p *FileProvider) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.cancel()
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *FileProvider) refresh() {
	state, err := loadState(p.path)
	if err != nil {
		p.log.WithError(err).Warn("oracle state refresh failed; keeping previous snapshot")
		return
	}
	p.state.Store(state)
	p.log.WithField("nodes", len(state.Nodes)).Debug("oracle state refreshed")
}

func loadState(path string) (oraclestate.State, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return oraclestate.State{}, err
	}
	var doc stateFile
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return oraclestate.State{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return oraclestate.NewState(doc.DataServices, doc.Nodes), nil
}
