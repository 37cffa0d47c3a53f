// Package ingest implements the write hot path: batch authentication,
// per-package normalization, persistence, and the fire-and-forget broadcast.
package ingest

import (
	"context"
	"fmt"

	"github.com/feedmesh/cachenode/internal/app/domain/datapackage"
	"github.com/feedmesh/cachenode/internal/app/metrics"
	"github.com/feedmesh/cachenode/internal/app/registry"
	"github.com/feedmesh/cachenode/internal/app/services/broadcast"
	"github.com/feedmesh/cachenode/internal/app/signing"
	"github.com/feedmesh/cachenode/internal/app/storage"
	"github.com/feedmesh/cachenode/pkg/logger"
)

// Service accepts signed submissions from reporting nodes.
type Service struct {
	store    storage.PackageStore
	registry registry.Provider
	fanout   *broadcast.Fanout
	log      *logger.Logger
}

// New constructs the ingestion service. fanout may be nil when no sinks are
// configured.
func New(store storage.PackageStore, reg registry.Provider, fanout *broadcast.Fanout, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("ingest")
	}
	return &Service{store: store, registry: reg, fanout: fanout, log: log}
}

// SkippedPackage reports a package rejected during normalization.
type SkippedPackage struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// Result summarizes an accepted submission.
type Result struct {
	SignerAddress string           `json:"signerAddress"`
	AcceptedCount int              `json:"acceptedCount"`
	Skipped       []SkippedPackage `json:"skipped,omitempty"`
}

// SubmitBatch validates and persists a bulk submission. The batch signature
// is authenticated before any side effect; packages that fail normalization
// are skipped and reported without aborting their siblings. Ingestion is
// complete once persistence succeeds; broadcast runs detached, best effort.
func (s *Service) SubmitBatch(ctx context.Context, batch datapackage.SignedBatch) (Result, error) {
	if len(batch.Packages) == 0 {
		return Result{}, fmt.Errorf("%w: batch contains no data packages", datapackage.ErrValidation)
	}
	for i, p := range batch.Packages {
		if len(p.DataPoints) == 0 {
			return Result{}, fmt.Errorf("%w: package %d contains no data points", datapackage.ErrValidation, i)
		}
	}

	submitter, err := signing.RecoverBatchSigner(batch)
	if err != nil {
		return Result{}, err
	}

	state := s.registry.Current()
	result := Result{SignerAddress: submitter}
	accepted := make([]datapackage.CachedPackage, 0, len(batch.Packages))
	var firstErr error
	for i, p := range batch.Packages {
		cached, err := Normalize(p, submitter, state)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			result.Skipped = append(result.Skipped, SkippedPackage{Index: i, Reason: err.Error()})
			continue
		}
		accepted = append(accepted, cached)
	}
	if len(accepted) == 0 {
		return Result{}, fmt.Errorf("no package in batch could be accepted: %w", firstErr)
	}

	if err := s.store.InsertPackages(ctx, accepted); err != nil {
		return Result{}, fmt.Errorf("persist packages: %w", err)
	}
	result.AcceptedCount = len(accepted)

	invalid := 0
	for _, p := range accepted {
		metrics.PackagesIngested(p.DataServiceID, 1)
		if !p.IsSignatureValid {
			invalid++
			metrics.InvalidSignature()
		}
	}

	s.log.WithField("signer", submitter).
		WithField("accepted", len(accepted)).
		WithField("invalid_signatures", invalid).
		WithField("skipped", len(result.Skipped)).
		Info("data packages ingested")

	if s.fanout != nil {
		// Detached from the request context: broadcast outlives the caller.
		go s.fanout.Broadcast(context.Background(), accepted, submitter)
	}
	return result, nil
}
