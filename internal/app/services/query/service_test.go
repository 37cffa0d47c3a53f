package query

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/feedmesh/cachenode/internal/app/domain/datapackage"
	"github.com/feedmesh/cachenode/internal/app/domain/oraclestate"
	"github.com/feedmesh/cachenode/internal/app/storage"
	"github.com/feedmesh/cachenode/internal/app/storage/memory"
)

func cached(ds, signer, feed string, ts int64) datapackage.CachedPackage {
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

func newService(t *testing.T, store storage.PackageStore, ttl time.Duration) *Service {
	t.Helper()
	return New(store, ttl, 3*time.Minute, nil)
}

func TestLatestDataPackages_Empty(t *testing.T) {
	svc := newService(t, memory.New(), time.Second)
	_, err := svc.LatestDataPackages(context.Background(), "prod")
	if !errors.Is(err, datapackage.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestConsensusDataPackages_Empty(t *testing.T) {
	svc := newService(t, memory.New(), time.Second)
	_, err := svc.ConsensusDataPackages(context.Background(), "prod")
	if !errors.Is(err, datapackage.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse, got %v", err)
	}
}

func TestLatestDataPackages_OnePerSignerPerFeed(t *testing.T) {
	store := memory.New()
	now := time.Now().UnixMilli()
	err := store.InsertPackages(context.Background(), []datapackage.CachedPackage{
		cached("prod", "0xaa", "ETH", now-1000),
		cached("prod", "0xaa", "ETH", now-500),
		cached("prod", "0xbb", "ETH", now-700),
		cached("prod", "0xaa", "BTC", now-600),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	svc := newService(t, store, time.Second)
	resp, err := svc.LatestDataPackages(context.Background(), "prod")
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if len(resp["ETH"]) != 2 {
		t.Fatalf("expected 2 ETH entries, got %+v", resp["ETH"])
	}
	if len(resp["BTC"]) != 1 {
		t.Fatalf("expected 1 BTC entry, got %+v", resp["BTC"])
	}
	for feed, pkgs := range resp {
		seen := make(map[string]bool)
		for _, p := range pkgs {
			if seen[p.SignerAddress] {
				t.Fatalf("feed %s has duplicate signer %s", feed, p.SignerAddress)
			}
			seen[p.SignerAddress] = true
		}
	}
	// Per-signer entries carry the greatest eligible timestamp.
	for _, p := range resp["ETH"] {
		if p.SignerAddress == "0xaa" && p.TimestampMilliseconds != now-500 {
			t.Fatalf("expected freshest 0xaa package, got %+v", p)
		}
	}
}

func TestDataPackagesAt_ExactTimestampOnly(t *testing.T) {
	store := memory.New()
	err := store.InsertPackages(context.Background(), []datapackage.CachedPackage{
		cached("prod", "0xaa", "ETH", 1000),
		cached("prod", "0xaa", "ETH", 2000),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	svc := newService(t, store, time.Second)
	resp, err := svc.DataPackagesAt(context.Background(), "prod", 1000)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(resp["ETH"]) != 1 || resp["ETH"][0].TimestampMilliseconds != 1000 {
		t.Fatalf("expected only the package at 1000, got %+v", resp)
	}

	if _, err := svc.DataPackagesAt(context.Background(), "prod", 1500); !errors.Is(err, datapackage.ErrEmptyResponse) {
		t.Fatalf("expected ErrEmptyResponse for unmatched timestamp, got %v", err)
	}
}

func TestConsensusDataPackages_SharedTimestamp(t *testing.T) {
	store := memory.New()
	now := time.Now().UnixMilli()
	err := store.InsertPackages(context.Background(), []datapackage.CachedPackage{
		cached("prod", "0xaa", "ETH", now-1000),
		cached("prod", "0xbb", "ETH", now-1000),
		cached("prod", "0xcc", "BTC", now-1000),
		// Fresher but less corroborated round.
		cached("prod", "0xaa", "ETH", now-200),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	svc := newService(t, store, time.Second)
	resp, err := svc.ConsensusDataPackages(context.Background(), "prod")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(resp["ETH"]) != 2 || len(resp["BTC"]) != 1 {
		t.Fatalf("expected the corroborated round, got %+v", resp)
	}
	for _, pkgs := range resp {
		for _, p := range pkgs {
			if p.TimestampMilliseconds != now-1000 {
				t.Fatalf("expected shared timestamp, got %+v", p)
			}
		}
	}
}

func TestConsensusDataPackages_DeduplicatesSigners(t *testing.T) {
	store := memory.New()
	now := time.Now().UnixMilli()
	dup := cached("prod", "0xaa", "ETH", now-1000)
	dup.DataPoints[0].Value = 2
	err := store.InsertPackages(context.Background(), []datapackage.CachedPackage{
		cached("prod", "0xaa", "ETH", now-1000),
		dup,
		cached("prod", "0xbb", "ETH", now-1000),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	svc := newService(t, store, time.Second)
	resp, err := svc.ConsensusDataPackages(context.Background(), "prod")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(resp["ETH"]) != 2 {
		t.Fatalf("duplicate signer not dropped: %+v", resp["ETH"])
	}
	for _, p := range resp["ETH"] {
		if p.SignerAddress == "0xaa" && p.DataPoints[0].Value != 1 {
			t.Fatalf("expected first-seen package for 0xaa, got %+v", p)
		}
	}
}

func statsState() oraclestate.State {
	return oraclestate.NewState(
		[]oraclestate.DataService{{ID: "prod"}},
		[]oraclestate.Node{
			{Address: "0xaa", DataServiceID: "prod", Name: "node-a"},
			{Address: "0xbb", DataServiceID: "prod", Name: "node-b"},
		},
	)
}

func TestStats_WindowBound(t *testing.T) {
	svc := newService(t, memory.New(), time.Second)
	state := statsState()

	if _, err := svc.Stats(context.Background(), state, 0, MaxStatsWindowMilliseconds); err != nil {
		t.Fatalf("window of exactly the bound must be accepted: %v", err)
	}
	_, err := svc.Stats(context.Background(), state, 0, MaxStatsWindowMilliseconds+1)
	if !errors.Is(err, datapackage.ErrValidation) {
		t.Fatalf("expected ErrValidation for oversized window, got %v", err)
	}
	_, err = svc.Stats(context.Background(), state, 100, 50)
	if !errors.Is(err, datapackage.ErrValidation) {
		t.Fatalf("expected ErrValidation for inverted window, got %v", err)
	}
}

func TestStats_CountsVerifiedPerNode(t *testing.T) {
	store := memory.New()
	invalid := cached("prod", "0xaa", "ETH", 150)
	invalid.IsSignatureValid = false
	err := store.InsertPackages(context.Background(), []datapackage.CachedPackage{
		cached("prod", "0xaa", "ETH", 100),
		cached("prod", "0xaa", "ETH", 200),
		invalid,
		cached("prod", "0xbb", "ETH", 100),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	svc := newService(t, store, time.Second)
	stats, err := svc.Stats(context.Background(), statsState(), 0, 1000)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats["0xaa"].VerifiedCount != 2 || stats["0xaa"].NodeName != "node-a" {
		t.Fatalf("unexpected stats for 0xaa: %+v", stats["0xaa"])
	}
	if stats["0xbb"].VerifiedCount != 1 {
		t.Fatalf("unexpected stats for 0xbb: %+v", stats["0xbb"])
	}
}
