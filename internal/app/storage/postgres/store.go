// Package postgres implements PackageStore on PostgreSQL. The aggregation
// queries reproduce the selection semantics the memory store implements with
// map folds; the ordering contracts of storage.PackageStore are enforced in
// SQL. Schema: see schema.sql at the repository root.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/feedmesh/cachenode/internal/app/domain/datapackage"
	"github.com/feedmesh/cachenode/internal/app/storage"
)

// Store implements storage.PackageStore backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ storage.PackageStore = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to PostgreSQL with the given DSN.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

func (s *Store) InsertPackages(ctx context.Context, pkgs []datapackage.CachedPackage) error {
	if len(pkgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("data_packages",
		"id", "data_service_id", "signer_address", "data_feed_id",
		"timestamp_ms", "is_signature_valid", "signature", "data_points", "created_at"))
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, p := range pkgs {
		pointsJSON, err := json.Marshal(p.DataPoints)
		if err != nil {
			stmt.Close()
			return err
		}
		if _, err := stmt.ExecContext(ctx,
			uuid.NewString(), p.DataServiceID, p.SignerAddress, p.DataFeedID,
			p.TimestampMilliseconds, p.IsSignatureValid, p.Signature, pointsJSON, now,
		); err != nil {
			stmt.Close()
			return err
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return err
	}
	if err := stmt.Close(); err != nil {
		return err
	}
	return tx.Commit()
}

// windowPredicate renders the eligibility condition for placeholder $2.
func windowPredicate(w storage.Window) (string, int64) {
	if w.Exact() {
		return "timestamp_ms = $2", w.At
	}
	return "timestamp_ms > $2", w.NewerThan
}

func (s *Store) LatestPerSignerAndFeed(ctx context.Context, dataServiceID string, w storage.Window) ([]datapackage.CachedPackage, error) {
	cond, bound := windowPredicate(w)
	rows, err := s.db.QueryContext(ctx, `
		SELECT data_service_id, signer_address, data_feed_id,
		       timestamp_ms, is_signature_valid, signature, data_points
		FROM (
			SELECT DISTINCT ON (lower(signer_address), data_feed_id) *
			FROM data_packages
			WHERE data_service_id = $1 AND `+cond+`
			ORDER BY lower(signer_address), data_feed_id, timestamp_ms DESC, seq ASC
		) latest
		ORDER BY timestamp_ms DESC, lower(signer_address) ASC, data_feed_id ASC
	`, dataServiceID, bound)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPackages(rows)
}

func (s *Store) MaxConsensusGroup(ctx context.Context, dataServiceID string, w storage.Window) ([]datapackage.CachedPackage, error) {
	cond, bound := windowPredicate(w)
	rows, err := s.db.QueryContext(ctx, `
		WITH winner AS (
			SELECT timestamp_ms
			FROM data_packages
			WHERE data_service_id = $1 AND `+cond+`
			GROUP BY timestamp_ms
			ORDER BY COUNT(*) DESC, timestamp_ms DESC
			LIMIT 1
		)
		SELECT p.data_service_id, p.signer_address, p.data_feed_id,
		       p.timestamp_ms, p.is_signature_valid, p.signature, p.data_points
		FROM data_packages p
		JOIN winner ON p.timestamp_ms = winner.timestamp_ms
		WHERE p.data_service_id = $1
		ORDER BY lower(p.signer_address) ASC, p.seq ASC
	`, dataServiceID, bound)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanPackages(rows)
}

func (s *Store) CountVerified(ctx context.Context, dataServiceID, signerAddress string, fromMs, toMs int64) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM data_packages
		WHERE data_service_id = $1
		  AND lower(signer_address) = lower($2)
		  AND is_signature_valid
		  AND timestamp_ms BETWEEN $3 AND $4
	`, dataServiceID, signerAddress, fromMs, toMs).Scan(&n)
	return n, err
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func scanPackages(rows *sql.Rows) ([]datapackage.CachedPackage, error) {
	var out []datapackage.CachedPackage
	for rows.Next() {
		var (
			p         datapackage.CachedPackage
			pointsRaw []byte
		)
		if err := rows.Scan(&p.DataServiceID, &p.SignerAddress, &p.DataFeedID,
			&p.TimestampMilliseconds, &p.IsSignatureValid, &p.Signature, &pointsRaw); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(pointsRaw, &p.DataPoints); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
