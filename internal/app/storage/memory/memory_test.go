package memory

import (
	"context"
	"testing"

	"github.com/feedmesh/cachenode/internal/app/domain/datapackage"
	"github.com/feedmesh/cachenode/internal/app/storage"
)

func pkg(ds, signer, feed string, ts int64) datapackage.CachedPackage {
	return datapackage.CachedPackage{
		ReceivedPackage: datapackage.ReceivedPackage{
			DataPoints:            []datapackage.DataPoint{{DataFeedID: feed, Value: 1}},
			TimestampMilliseconds: ts,
		},
		DataServiceID:    ds,
		SignerAddress:    signer,
		DataFeedID:       feed,
		IsSignatureValid: true,
	}
}

func mustInsert(t *testing.T, s *Store, pkgs ...datapackage.CachedPackage) {
	t.Helper()
	if err := s.InsertPackages(context.Background(), pkgs); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestLatestPerSignerAndFeed_KeepsGreatestTimestamp(t *testing.T) {
	s := New()
	mustInsert(t, s,
		pkg("prod", "0xaa", "ETH", 100),
		pkg("prod", "0xaa", "ETH", 300),
		pkg("prod", "0xaa", "ETH", 200),
		pkg("prod", "0xbb", "ETH", 250),
	)

	got, err := s.LatestPerSignerAndFeed(context.Background(), "prod", storage.Window{NewerThan: 0})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	// Ordered by timestamp descending.
	if got[0].SignerAddress != "0xaa" || got[0].TimestampMilliseconds != 300 {
		t.Fatalf("unexpected first row: %+v", got[0])
	}
	if got[1].SignerAddress != "0xbb" || got[1].TimestampMilliseconds != 250 {
		t.Fatalf("unexpected second row: %+v", got[1])
	}
}

func TestLatestPerSignerAndFeed_WindowExcludesOld(t *testing.T) {
	s := New()
	mustInsert(t, s,
		pkg("prod", "0xaa", "ETH", 100),
		pkg("prod", "0xaa", "ETH", 500),
	)

	got, err := s.LatestPerSignerAndFeed(context.Background(), "prod", storage.Window{NewerThan: 400})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].TimestampMilliseconds != 500 {
		t.Fatalf("expected only the fresh row, got %+v", got)
	}

	// NewerThan is exclusive.
	got, err = s.LatestPerSignerAndFeed(context.Background(), "prod", storage.Window{NewerThan: 500})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no rows at the exclusive bound, got %+v", got)
	}
}

func TestLatestPerSignerAndFeed_ExactTimestamp(t *testing.T) {
	s := New()
	mustInsert(t, s,
		pkg("prod", "0xaa", "ETH", 100),
		pkg("prod", "0xaa", "ETH", 200),
	)

	got, err := s.LatestPerSignerAndFeed(context.Background(), "prod", storage.Window{At: 100})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].TimestampMilliseconds != 100 {
		t.Fatalf("expected exactly the row at 100, got %+v", got)
	}
}

func TestLatestPerSignerAndFeed_EqualTimestampKeepsFirstStored(t *testing.T) {
	s := New()
	first := pkg("prod", "0xaa", "ETH", 100)
	first.DataPoints[0].Value = 1
	second := pkg("prod", "0xaa", "ETH", 100)
	second.DataPoints[0].Value = 2
	mustInsert(t, s, first, second)

	got, err := s.LatestPerSignerAndFeed(context.Background(), "prod", storage.Window{NewerThan: 0})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].DataPoints[0].Value != 1 {
		t.Fatalf("expected first-stored row to win the tie, got %+v", got)
	}
}

func TestLatestPerSignerAndFeed_IgnoresOtherPartitions(t *testing.T) {
	s := New()
	mustInsert(t, s,
		pkg("prod", "0xaa", "ETH", 100),
		pkg("staging", "0xaa", "ETH", 200),
	)

	got, err := s.LatestPerSignerAndFeed(context.Background(), "prod", storage.Window{NewerThan: 0})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].DataServiceID != "prod" {
		t.Fatalf("expected only prod rows, got %+v", got)
	}
}

func TestMaxConsensusGroup_PicksLargestGroup(t *testing.T) {
	s := New()
	mustInsert(t, s,
		pkg("prod", "0xaa", "ETH", 100),
		pkg("prod", "0xbb", "ETH", 100),
		pkg("prod", "0xcc", "ETH", 100),
		pkg("prod", "0xaa", "ETH", 200),
		pkg("prod", "0xbb", "ETH", 200),
	)

	got, err := s.MaxConsensusGroup(context.Background(), "prod", storage.Window{NewerThan: 0})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected the 3-member group, got %d rows", len(got))
	}
	for _, p := range got {
		if p.TimestampMilliseconds != 100 {
			t.Fatalf("expected timestamp 100, got %+v", p)
		}
	}
	// Ordered by signer ascending.
	if got[0].SignerAddress != "0xaa" || got[1].SignerAddress != "0xbb" || got[2].SignerAddress != "0xcc" {
		t.Fatalf("unexpected signer order: %+v", got)
	}
}

func TestMaxConsensusGroup_TieFavorsMoreRecent(t *testing.T) {
	s := New()
	mustInsert(t, s,
		pkg("prod", "0xaa", "ETH", 100),
		pkg("prod", "0xbb", "ETH", 100),
		pkg("prod", "0xaa", "ETH", 200),
		pkg("prod", "0xbb", "ETH", 200),
	)

	got, err := s.MaxConsensusGroup(context.Background(), "prod", storage.Window{NewerThan: 0})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(got))
	}
	for _, p := range got {
		if p.TimestampMilliseconds != 200 {
			t.Fatalf("tie should favor the newer timestamp, got %+v", p)
		}
	}
}

func TestMaxConsensusGroup_Empty(t *testing.T) {
	s := New()
	got, err := s.MaxConsensusGroup(context.Background(), "prod", storage.Window{NewerThan: 0})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no rows, got %+v", got)
	}
}

func TestCountVerified(t *testing.T) {
	s := New()
	invalid := pkg("prod", "0xaa", "ETH", 150)
	invalid.IsSignatureValid = false
	mustInsert(t, s,
		pkg("prod", "0xaa", "ETH", 100),
		pkg("prod", "0xaa", "ETH", 200),
		pkg("prod", "0xaa", "ETH", 300),
		invalid,
		pkg("prod", "0xbb", "ETH", 200),
	)

	n, err := s.CountVerified(context.Background(), "prod", "0xAA", 100, 200)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	// Bounds inclusive, invalid excluded, signer match case-insensitive.
	if n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
}
