// Package query implements the consensus-selection read path: two selection
// strategies over the persisted package set, a TTL single-flight cache in
// front of them, and the node statistics query.
package query

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/feedmesh/cachenode/internal/app/domain/datapackage"
	"github.com/feedmesh/cachenode/internal/app/domain/oraclestate"
	"github.com/feedmesh/cachenode/internal/app/metrics"
	"github.com/feedmesh/cachenode/internal/app/storage"
	"github.com/feedmesh/cachenode/pkg/logger"
)

// MaxStatsWindowMilliseconds bounds the statistics query window.
const MaxStatsWindowMilliseconds = 7_200_000

// Strategy names the two selection modes; they key separate cache entries.
const (
	strategyLatest    = "latest"
	strategyConsensus = "consensus"
)

// Service answers consumer queries over the persisted package set.
type Service struct {
	store    storage.PackageStore
	log      *logger.Logger
	maxDelay time.Duration
	cache    *responseCache
	now      func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithClock overrides the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
		s.cache.now = now
	}
}

// New constructs the query service. ttl bounds result staleness; maxDelay is
// the default eligibility window reaching back from now.
func New(store storage.PackageStore, ttl, maxDelay time.Duration, log *logger.Logger, opts ...Option) *Service {
	if log == nil {
		log = logger.NewDefault("query")
	}
	s := &Service{
		store:    store,
		log:      log,
		maxDelay: maxDelay,
		now:      time.Now,
	}
	s.cache = newResponseCache(ttl, time.Now)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) defaultWindow() storage.Window {
	return storage.Window{NewerThan: s.now().Add(-s.maxDelay).UnixMilli()}
}

// LatestDataPackages serves the per-feed latest-per-signer view within the
// default staleness window, through the cache.
func (s *Service) LatestDataPackages(ctx context.Context, dataServiceID string) (datapackage.DataPackagesResponse, error) {
	key := strategyLatest + "/" + dataServiceID
	resp, hit, err := s.cache.getOrCompute(key, func() (datapackage.DataPackagesResponse, error) {
		return s.latest(ctx, dataServiceID, s.defaultWindow())
	})
	metrics.CacheLookup(strategyLatest, hit)
	return resp, err
}

// DataPackagesAt serves the latest-per-signer view restricted to packages at
// exactly the given millisecond. Historical reads bypass the cache: the cache
// is keyed per partition and holds only the default-window view.
func (s *Service) DataPackagesAt(ctx context.Context, dataServiceID string, timestampMs int64) (datapackage.DataPackagesResponse, error) {
	return s.latest(ctx, dataServiceID, storage.Window{At: timestampMs})
}

// ConsensusDataPackages serves the single best-supported shared timestamp
// across feeds, through the cache.
func (s *Service) ConsensusDataPackages(ctx context.Context, dataServiceID string) (datapackage.DataPackagesResponse, error) {
	key := strategyConsensus + "/" + dataServiceID
	resp, hit, err := s.cache.getOrCompute(key, func() (datapackage.DataPackagesResponse, error) {
		return s.consensus(ctx, dataServiceID, s.defaultWindow())
	})
	metrics.CacheLookup(strategyConsensus, hit)
	return resp, err
}

// latest is strategy A: per (signer, feed) the greatest eligible timestamp,
// assembled per feed, deduplicated by signer.
func (s *Service) latest(ctx context.Context, dataServiceID string, w storage.Window) (datapackage.DataPackagesResponse, error) {
	pkgs, err := s.store.LatestPerSignerAndFeed(ctx, dataServiceID, w)
	if err != nil {
		return nil, fmt.Errorf("latest per signer query: %w", err)
	}
	s.log.WithField("data_service", dataServiceID).
		WithField("packages", len(pkgs)).
		Debug("latest-per-signer selection computed")
	return assemble(pkgs, dataServiceID)
}

// consensus is strategy B: the timestamp group with the most eligible
// packages (ties toward the more recent), first package per signer per feed.
func (s *Service) consensus(ctx context.Context, dataServiceID string, w storage.Window) (datapackage.DataPackagesResponse, error) {
	pkgs, err := s.store.MaxConsensusGroup(ctx, dataServiceID, w)
	if err != nil {
		return nil, fmt.Errorf("max consensus query: %w", err)
	}
	s.log.WithField("data_service", dataServiceID).
		WithField("packages", len(pkgs)).
		Debug("max-consensus selection computed")
	return assemble(pkgs, dataServiceID)
}

// assemble groups store results by feed id, keeping the first package per
// distinct signer within each feed. The store's ordering contract makes the
// first-seen choice deterministic.
func assemble(pkgs []datapackage.CachedPackage, dataServiceID string) (datapackage.DataPackagesResponse, error) {
	if len(pkgs) == 0 {
		return nil, fmt.Errorf("data service %s: %w", dataServiceID, datapackage.ErrEmptyResponse)
	}

	resp := make(datapackage.DataPackagesResponse)
	seen := make(map[string]map[string]bool)
	for _, p := range pkgs {
		signer := strings.ToLower(p.SignerAddress)
		if seen[p.DataFeedID] == nil {
			seen[p.DataFeedID] = make(map[string]bool)
		}
		if seen[p.DataFeedID][signer] {
			continue
		}
		seen[p.DataFeedID][signer] = true
		resp[p.DataFeedID] = append(resp[p.DataFeedID], p)
	}
	return resp, nil
}

// NodeStats summarizes one reporting node's verified submissions in a window.
type NodeStats struct {
	DataServiceID string `json:"dataServiceId"`
	VerifiedCount int64  `json:"verifiedDataPackagesCount"`
	NodeName      string `json:"nodeName"`
}

// Stats counts verified packages per known node within [fromMs, toMs],
// fanned out in parallel across nodes. Windows wider than
// MaxStatsWindowMilliseconds are rejected as caller faults.
func (s *Service) Stats(ctx context.Context, state oraclestate.State, fromMs, toMs int64) (map[string]NodeStats, error) {
	if toMs < fromMs {
		return nil, fmt.Errorf("%w: toTimestamp precedes fromTimestamp", datapackage.ErrValidation)
	}
	if toMs-fromMs > MaxStatsWindowMilliseconds {
		return nil, fmt.Errorf("%w: stats window exceeds %d ms", datapackage.ErrValidation, MaxStatsWindowMilliseconds)
	}

	nodes := state.NodeList()
	out := make(map[string]NodeStats, len(nodes))
	var mu sync.Mutex

	// A plain errgroup (no derived context) lets every branch settle even
	// when a sibling fails; Wait reports the first failure afterwards.
	var g errgroup.Group
	for _, node := range nodes {
		node := node
		g.Go(func() error {
			count, err := s.store.CountVerified(ctx, node.DataServiceID, node.Address, fromMs, toMs)
			if err != nil {
				return fmt.Errorf("count for node %s: %w", node.Address, err)
			}
			mu.Lock()
			out[node.Address] = NodeStats{
				DataServiceID: node.DataServiceID,
				VerifiedCount: count,
				NodeName:      node.Name,
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
