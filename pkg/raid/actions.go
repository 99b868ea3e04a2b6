package raid

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rallyhouse/rally/pkg/datastore"
	"github.com/rallyhouse/rally/pkg/models"
)

// ActionStore persists the append-only action log. The authoritative copy
// lives in the raid's in-memory state; rows exist for audit and restart
// recovery.
type ActionStore interface {
	Append(ctx context.Context, raidID string, a *models.Action) error
	MarkVerified(ctx context.Context, raidID string, actionID uuid.UUID, verifiedAt time.Time, points int) error
	ListByRaid(ctx context.Context, raidID string) ([]*models.Action, error)
}

// PGActionStore writes raid actions through the datastore router.
type PGActionStore struct {
	router *datastore.Router
}

// NewPGActionStore creates a PGActionStore.
func NewPGActionStore(router *datastore.Router) *PGActionStore {
	return &PGActionStore{router: router}
}

// Append inserts one unverified action row.
func (st *PGActionStore) Append(ctx context.Context, raidID string, a *models.Action) error {
	return st.router.RunSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `INSERT INTO raid_actions
			(raid_id, action_id, participant_id, objective_type, target,
			 submitted_at, verified, points, proof)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			raidID, a.ActionID, a.ParticipantID, a.ObjectiveType, a.Target,
			a.SubmittedAt, a.Verified, a.Points, a.Proof)
		return err
	})
}

// MarkVerified flips one action row to verified with its awarded points.
func (st *PGActionStore) MarkVerified(ctx context.Context, raidID string, actionID uuid.UUID, verifiedAt time.Time, points int) error {
	return st.router.RunSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tag, err := conn.Exec(ctx, `UPDATE raid_actions
			SET verified = TRUE, verified_at = $3, points = $4
			WHERE raid_id = $1 AND action_id = $2`,
			raidID, actionID, verifiedAt, points)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrActionNotFound
		}
		return nil
	})
}

// ListByRaid returns the persisted action log in submission order.
func (st *PGActionStore) ListByRaid(ctx context.Context, raidID string) ([]*models.Action, error) {
	var out []*models.Action
	err := st.router.ReadSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `SELECT action_id, participant_id,
			objective_type, target, submitted_at, verified_at, verified,
			points, proof
			FROM raid_actions WHERE raid_id = $1 ORDER BY submitted_at`, raidID)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var a models.Action
			if err := rows.Scan(&a.ActionID, &a.ParticipantID, &a.ObjectiveType,
				&a.Target, &a.SubmittedAt, &a.VerifiedAt, &a.Verified,
				&a.Points, &a.Proof); err != nil {
				return err
			}
			out = append(out, &a)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
