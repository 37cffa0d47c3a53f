// Package memory is an in-memory PackageStore. It is safe for concurrent use
// and is primarily intended for tests and local development.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/feedmesh/cachenode/internal/app/domain/datapackage"
	"github.com/feedmesh/cachenode/internal/app/storage"
)

type row struct {
	seq int64
	pkg datapackage.CachedPackage
}

// Store holds packages in insertion order.
type Store struct {
	mu      sync.RWMutex
	nextSeq int64
	rows    []row
}

var _ storage.PackageStore = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{nextSeq: 1}
}

func (s *Store) InsertPackages(ctx context.Context, pkgs []datapackage.CachedPackage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range pkgs {
		s.rows = append(s.rows, row{seq: s.nextSeq, pkg: p})
		s.nextSeq++
	}
	return nil
}

func (s *Store) eligible(dataServiceID string, w storage.Window) []row {
	var out []row
	for _, r := range s.rows {
		if r.pkg.DataServiceID != dataServiceID {
			continue
		}
		if !w.Contains(r.pkg.TimestampMilliseconds) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (s *Store) LatestPerSignerAndFeed(ctx context.Context, dataServiceID string, w storage.Window) ([]datapackage.CachedPackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type key struct{ signer, feed string }
	best := make(map[key]row)
	for _, r := range s.eligible(dataServiceID, w) {
		k := key{signer: strings.ToLower(r.pkg.SignerAddress), feed: r.pkg.DataFeedID}
		cur, ok := best[k]
		switch {
		case !ok:
			best[k] = r
		case r.pkg.TimestampMilliseconds > cur.pkg.TimestampMilliseconds:
			best[k] = r
		case r.pkg.TimestampMilliseconds == cur.pkg.TimestampMilliseconds && r.seq < cur.seq:
			best[k] = r
		}
	}

	out := make([]datapackage.CachedPackage, 0, len(best))
	for _, r := range best {
		out = append(out, r.pkg)
	}
	sortPackages(out)
	return out, nil
}

func (s *Store) MaxConsensusGroup(ctx context.Context, dataServiceID string, w storage.Window) ([]datapackage.CachedPackage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := s.eligible(dataServiceID, w)
	counts := make(map[int64]int)
	for _, r := range rows {
		counts[r.pkg.TimestampMilliseconds]++
	}

	var winner int64
	var winnerCount int
	for ts, n := range counts {
		if n > winnerCount || (n == winnerCount && ts > winner) {
			winner, winnerCount = ts, n
		}
	}
	if winnerCount == 0 {
		return nil, nil
	}

	var group []row
	for _, r := range rows {
		if r.pkg.TimestampMilliseconds == winner {
			group = append(group, r)
		}
	}
	sort.Slice(group, func(i, j int) bool {
		si := strings.ToLower(group[i].pkg.SignerAddress)
		sj := strings.ToLower(group[j].pkg.SignerAddress)
		if si != sj {
			return si < sj
		}
		return group[i].seq < group[j].seq
	})

	out := make([]datapackage.CachedPackage, len(group))
	for i, r := range group {
		out[i] = r.pkg
	}
	return out, nil
}

func (s *Store) CountVerified(ctx context.Context, dataServiceID, signerAddress string, fromMs, toMs int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, r := range s.rows {
		p := r.pkg
		if p.DataServiceID != dataServiceID || !p.IsSignatureValid {
			continue
		}
		if !strings.EqualFold(p.SignerAddress, signerAddress) {
			continue
		}
		if p.TimestampMilliseconds < fromMs || p.TimestampMilliseconds > toMs {
			continue
		}
		n++
	}
	return n, nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }

// sortPackages orders by timestamp descending, then signer ascending, then
// feed id ascending.
func sortPackages(pkgs []datapackage.CachedPackage) {
	sort.Slice(pkgs, func(i, j int) bool {
		if pkgs[i].TimestampMilliseconds != pkgs[j].TimestampMilliseconds {
			return pkgs[i].TimestampMilliseconds > pkgs[j].TimestampMilliseconds
		}
		si := strings.ToLower(pkgs[i].SignerAddress)
		sj := strings.ToLower(pkgs[j].SignerAddress)
		if si != sj {
			return si < sj
		}
		return pkgs[i].DataFeedID < pkgs[j].DataFeedID
	})
}
