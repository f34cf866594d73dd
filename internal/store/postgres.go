// File: internal/store/postgres.go
package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/cicerone-dev/cicerone/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// PgxConn is the subset of pgxpool.Pool the recovery store uses. Narrowed to
// an interface so tests can substitute pgxmock.
type PgxConn interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresRecoveryStore archives terminal sessions and their execution
// history to PostgreSQL.
type PostgresRecoveryStore struct {
	conn PgxConn
	log  *zap.Logger
}

// NewPostgresRecoveryStore creates a recovery store on an existing pool.
func NewPostgresRecoveryStore(conn PgxConn, logger *zap.Logger) *PostgresRecoveryStore {
	return &PostgresRecoveryStore{
		conn: conn,
		log:  logger.Named("recovery_store"),
	}
}

// Archive writes the session row and bulk-inserts its history inside one
// transaction.
func (s *PostgresRecoveryStore) Archive(ctx context.Context, session *schemas.Session, history []schemas.StepResult) error {
	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	contextJSON, err := json.Marshal(session.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal session context: %w", err)
	}
	analyticsJSON, err := json.Marshal(session.Analytics)
	if err != nil {
		return fmt.Errorf("failed to marshal session analytics: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO archived_sessions
		   (id, owner_id, objective, status, current_step_index, total_steps,
		    context, analytics, failure_reason, start_time, completed_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT (id) DO NOTHING`,
		session.ID, session.OwnerID, session.Objective, string(session.Status),
		session.CurrentStepIndex, len(session.Steps),
		contextJSON, analyticsJSON, session.FailureReason,
		session.StartTime, session.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert archived session %s: %w", session.ID, err)
	}

	if len(history) > 0 {
		if err := s.archiveHistory(ctx, tx, session.ID, history); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit archive transaction: %w", err)
	}
	s.log.Debug("Archived session",
		zap.String("session_id", session.ID),
		zap.Int("history", len(history)))
	return nil
}

// archiveHistory bulk inserts step results using the pgx CopyFrom protocol.
func (s *PostgresRecoveryStore) archiveHistory(ctx context.Context, tx pgx.Tx, sessionID string, history []schemas.StepResult) error {
	rows := make([][]interface{}, len(history))
	for i, r := range history {
		outcomeJSON, err := json.Marshal(r.Outcome)
		if err != nil {
			return fmt.Errorf("failed to marshal outcome for step %s: %w", r.StepID, err)
		}
		rows[i] = []interface{}{
			sessionID, r.StepID, string(r.Status), r.Score,
			outcomeJSON, r.Attempts, r.Note, r.Timestamp,
		}
	}

	_, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"step_results"},
		[]string{"session_id", "step_id", "status", "score", "outcome", "attempts", "note", "timestamp"},
		pgx.CopyFromRows(rows),
	)
	return err
}
