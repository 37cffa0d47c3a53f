package storage

import (
	"context"

	"github.com/feedmesh/cachenode/internal/app/domain/datapackage"
)

// Window bounds which persisted packages are eligible for a query. In range
// mode only packages strictly newer than NewerThan qualify; when At is set,
// only packages at exactly that millisecond qualify.
type Window struct {
	NewerThan int64
	At        int64
}

// Exact reports whether the window selects a single exact timestamp.
func (w Window) Exact() bool { return w.At != 0 }

// Contains reports whether a package timestamp falls inside the window.
func (w Window) Contains(timestampMs int64) bool {
	if w.Exact() {
		return timestampMs == w.At
	}
	return timestampMs > w.NewerThan
}

// PackageStore persists cached data packages and answers the two aggregation
// queries the consensus-selection layer is built on. Implementations must
// honor the ordering contracts below so selection stays deterministic
// regardless of the storage engine.
type PackageStore interface {
	// InsertPackages persists a batch of normalized packages.
	InsertPackages(ctx context.Context, pkgs []datapackage.CachedPackage) error

	// LatestPerSignerAndFeed returns at most one package per (signer, feed)
	// pair within the window: the one with the greatest timestamp, and among
	// equal timestamps the earliest stored. Results are ordered by timestamp
	// descending, then signer address ascending, then feed id ascending.
	LatestPerSignerAndFeed(ctx context.Context, dataServiceID string, w Window) ([]datapackage.CachedPackage, error)

	// MaxConsensusGroup returns every eligible package sharing the
	// best-supported timestamp: the exact millisecond with the most eligible
	// packages, ties resolved toward the more recent timestamp. Results are
	// ordered by signer address ascending, then insertion order.
	MaxConsensusGroup(ctx context.Context, dataServiceID string, w Window) ([]datapackage.CachedPackage, error)

	// CountVerified counts persisted packages for one signer in one
	// partition with a valid signature and a timestamp in [fromMs, toMs].
	CountVerified(ctx context.Context, dataServiceID, signerAddress string, fromMs, toMs int64) (int64, error)

	// Ping reports whether the backing store is reachable.
	Ping(ctx context.Context) error
}
