package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rallyhouse/rally/pkg/datastore"
	"github.com/rallyhouse/rally/pkg/models"
)

// Store persists sessions. The manager is the only writer; reads may come
// from anywhere holding a Store.
type Store interface {
	Insert(ctx context.Context, s *models.Session) error
	Update(ctx context.Context, s *models.Session) error
	Get(ctx context.Context, id uuid.UUID) (*models.Session, error)
	FindActiveByRoom(ctx context.Context, agentID, roomID string) (*models.Session, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ListActive(ctx context.Context) ([]*models.Session, error)
}

// PGStore persists sessions through the datastore router. Session rows are
// plain columns; the raid payload and metadata go into JSONB columns.
type PGStore struct {
	router *datastore.Router
}

// NewPGStore creates a PGStore.
func NewPGStore(router *datastore.Router) *PGStore {
	return &PGStore{router: router}
}

const sessionColumns = `id, agent_id, user_id, room_id, kind, state,
	created_at, last_activity_at, expires_at, ended_at, timeout_ms,
	renewal_policy, message_count, metadata, raid`

// Insert writes a new session row.
func (st *PGStore) Insert(ctx context.Context, s *models.Session) error {
	metadata, raid, err := encodeBlobs(s)
	if err != nil {
		return err
	}
	return st.router.RunSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `INSERT INTO sessions (`+sessionColumns+`)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`,
			s.ID, s.AgentID, s.UserID, s.RoomID, s.Kind, s.State,
			s.CreatedAt, s.LastActivityAt, s.ExpiresAt, s.EndedAt, s.TimeoutMS,
			s.RenewalPolicy, s.MessageCount, metadata, raid)
		return err
	})
}

// Update rewrites the mutable fields of a session row.
func (st *PGStore) Update(ctx context.Context, s *models.Session) error {
	metadata, raid, err := encodeBlobs(s)
	if err != nil {
		return err
	}
	return st.router.RunSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tag, err := conn.Exec(ctx, `UPDATE sessions SET state=$2,
			last_activity_at=$3, expires_at=$4, ended_at=$5,
			message_count=$6, metadata=$7, raid=$8 WHERE id=$1`,
			s.ID, s.State, s.LastActivityAt, s.ExpiresAt, s.EndedAt,
			s.MessageCount, metadata, raid)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Get reads one session row.
func (st *PGStore) Get(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	var s *models.Session
	err := st.router.ReadSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id=$1`, id)
		var scanErr error
		s, scanErr = scanSession(row)
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// FindActiveByRoom returns the newest active session for an (agent, room)
// pair, or ErrNotFound.
func (st *PGStore) FindActiveByRoom(ctx context.Context, agentID, roomID string) (*models.Session, error) {
	var s *models.Session
	err := st.router.ReadSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		row := conn.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions
			WHERE agent_id=$1 AND room_id=$2 AND state='active'
			ORDER BY created_at DESC LIMIT 1`, agentID, roomID)
		var scanErr error
		s, scanErr = scanSession(row)
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Delete removes a session row. Deleting a missing row is not an error.
func (st *PGStore) Delete(ctx context.Context, id uuid.UUID) error {
	return st.router.RunSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		_, err := conn.Exec(ctx, `DELETE FROM sessions WHERE id=$1`, id)
		return err
	})
}

// ListActive returns every active session row, used to warm the manager's
// in-memory table after a restart.
func (st *PGStore) ListActive(ctx context.Context) ([]*models.Session, error) {
	var out []*models.Session
	err := st.router.ReadSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE state='active'`)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			s, err := scanSession(rows)
			if err != nil {
				return err
			}
			out = append(out, s)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func encodeBlobs(s *models.Session) (metadata, raid []byte, err error) {
	if s.Metadata != nil {
		if metadata, err = json.Marshal(s.Metadata); err != nil {
			return nil, nil, fmt.Errorf("encoding session metadata: %w", err)
		}
	}
	if s.Raid != nil {
		if raid, err = json.Marshal(s.Raid); err != nil {
			return nil, nil, fmt.Errorf("encoding raid state: %w", err)
		}
	}
	return metadata, raid, nil
}

func scanSession(row pgx.Row) (*models.Session, error) {
	var (
		s              models.Session
		endedAt        *time.Time
		metadata, raid []byte
	)
	err := row.Scan(&s.ID, &s.AgentID, &s.UserID, &s.RoomID, &s.Kind, &s.State,
		&s.CreatedAt, &s.LastActivityAt, &s.ExpiresAt, &endedAt, &s.TimeoutMS,
		&s.RenewalPolicy, &s.MessageCount, &metadata, &raid)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	s.EndedAt = endedAt
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return nil, fmt.Errorf("decoding session metadata: %w", err)
		}
	}
	if len(raid) > 0 {
		s.Raid = &models.RaidState{}
		if err := json.Unmarshal(raid, s.Raid); err != nil {
			return nil, fmt.Errorf("decoding raid state: %w", err)
		}
	}
	return &s, nil
}
