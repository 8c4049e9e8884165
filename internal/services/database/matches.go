package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"ban-cadastre-engine/internal/models"
	"ban-cadastre-engine/internal/utils"
)

// MatchRepository persists match rows, mirroring the parquet output columns
// plus the run id and department they belong to.
type MatchRepository struct {
	db *DB
}

// NewMatchRepository creates a new match repository.
func NewMatchRepository(db *DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// EnsureSchema creates the matches table when missing.
func (r *MatchRepository) EnsureSchema(ctx context.Context) error {
	err := r.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS parcel_address_matches (
			run_id      UUID NOT NULL,
			departement TEXT NOT NULL,
			id_ban      TEXT NOT NULL,
			id_parcelle TEXT NOT NULL,
			match_type  TEXT NOT NULL,
			distance_m  DOUBLE PRECISION NOT NULL,
			confidence  INTEGER NOT NULL,
			created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to ensure matches schema: %w", err)
	}
	return nil
}

// BulkInsert copies a batch of match rows for one run.
func (r *MatchRepository) BulkInsert(ctx context.Context, runID, departement string, matches []models.Match) (int64, error) {
	rows := make([][]any, len(matches))
	for i := range matches {
		m := &matches[i]
		rows[i] = []any{runID, departement, m.IDBan, m.IDParcelle, string(m.MatchType), m.DistanceM, m.Confidence}
	}

	inserted, err := r.db.CopyFrom(ctx,
		pgx.Identifier{"parcel_address_matches"},
		[]string{"run_id", "departement", "id_ban", "id_parcelle", "match_type", "distance_m", "confidence"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to bulk insert matches: %w", err)
	}
	return inserted, nil
}

// DeleteRun removes every row of one run, used to clean up after a failure.
func (r *MatchRepository) DeleteRun(ctx context.Context, runID string) error {
	if err := r.db.Exec(ctx, `DELETE FROM parcel_address_matches WHERE run_id = $1`, runID); err != nil {
		return fmt.Errorf("failed to delete run %s: %w", runID, err)
	}
	return nil
}

// MatchSink adapts the repository to the writer sink interface.
type MatchSink struct {
	repo        *MatchRepository
	runID       string
	departement string
	rows        int64
}

// NewMatchSink creates a sink bound to one run and department.
func NewMatchSink(repo *MatchRepository, runID, departement string) *MatchSink {
	return &MatchSink{repo: repo, runID: runID, departement: departement}
}

// WriteBatch copies one batch of rows.
func (s *MatchSink) WriteBatch(ctx context.Context, rows []models.Match) error {
	n, err := s.repo.BulkInsert(ctx, s.runID, s.departement, rows)
	if err != nil {
		return err
	}
	s.rows += n
	return nil
}

// Close logs the total.
func (s *MatchSink) Close(ctx context.Context) error {
	utils.GetLogger().Info("Matches persisted to database",
		zap.String("run_id", s.runID),
		zap.Int64("rows", s.rows),
	)
	return nil
}

// Abort deletes whatever the failed run already copied.
func (s *MatchSink) Abort() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.repo.DeleteRun(ctx, s.runID); err != nil {
		utils.GetLogger().Warn("Failed to clean up aborted run", zap.String("run_id", s.runID), zap.Error(err))
	}
}
