// Package memory persists conversational memory: recency reads on the
// transaction pool, vector similarity search on the session pool, and
// embed-on-write for an allow-list of item kinds.
package memory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/rallyhouse/rally/pkg/config"
	"github.com/rallyhouse/rally/pkg/datastore"
	"github.com/rallyhouse/rally/pkg/models"
)

const dimensionKey = "embedding_dim"

// Store reads and writes memory items through the datastore router.
type Store struct {
	router   *datastore.Router
	embedder Embedder
	cfg      config.MemoryConfig
	log      *slog.Logger

	embedKinds map[string]struct{}
}

// NewStore creates a Store. embedder may be nil, in which case nothing is
// embedded on write and Search is unavailable.
func NewStore(router *datastore.Router, embedder Embedder, cfg config.MemoryConfig) *Store {
	kinds := make(map[string]struct{}, len(cfg.EmbedKinds))
	for _, k := range cfg.EmbedKinds {
		kinds[k] = struct{}{}
	}
	return &Store{
		router:     router,
		embedder:   embedder,
		cfg:        cfg,
		log:        slog.With("component", "memory"),
		embedKinds: kinds,
	}
}

// CheckDimension asserts the configured embedding dimension against the
// one recorded in app_settings, recording it on first run. A mismatch is
// fatal for the caller: vectors of different dimensions must never mix.
func (s *Store) CheckDimension(ctx context.Context) error {
	return s.router.RunSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		var stored string
		err := conn.QueryRow(ctx,
			`SELECT value FROM app_settings WHERE key=$1`, dimensionKey).Scan(&stored)
		if errors.Is(err, pgx.ErrNoRows) {
			_, err = conn.Exec(ctx,
				`INSERT INTO app_settings (key, value) VALUES ($1, $2)
				 ON CONFLICT (key) DO NOTHING`,
				dimensionKey, strconv.Itoa(s.cfg.EmbeddingDim))
			return err
		}
		if err != nil {
			return err
		}
		dim, err := strconv.Atoi(stored)
		if err != nil {
			return fmt.Errorf("reading stored embedding dimension: %w", err)
		}
		if dim != s.cfg.EmbeddingDim {
			return fmt.Errorf("%w: configured %d, database has %d",
				ErrDimensionMismatch, s.cfg.EmbeddingDim, dim)
		}
		return nil
	})
}

// Put stores one item. Items whose kind is on the embed allow-list are
// embedded on write; an embedding failure downgrades the item to no-vector
// rather than failing the write.
func (s *Store) Put(ctx context.Context, item *models.MemoryItem) error {
	if err := s.prepare(ctx, item); err != nil {
		return err
	}
	return s.router.RunSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		return insertItem(ctx, conn, item)
	})
}

// PutMany stores a batch of items in one transaction.
func (s *Store) PutMany(ctx context.Context, items []*models.MemoryItem) error {
	for _, item := range items {
		if err := s.prepare(ctx, item); err != nil {
			return err
		}
	}
	return s.router.RunSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)
		for _, item := range items {
			if err := insertItem(ctx, tx, item); err != nil {
				return err
			}
		}
		return tx.Commit(ctx)
	})
}

// prepare validates the item, fills defaults, and embeds when the kind is
// allow-listed.
func (s *Store) prepare(ctx context.Context, item *models.MemoryItem) error {
	if item.AgentID == "" || item.RoomID == "" || item.Kind == "" {
		return fmt.Errorf("%w: agent_id, room_id and kind are required", ErrInvalidItem)
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Embedding != nil && len(item.Embedding) != s.cfg.EmbeddingDim {
		return fmt.Errorf("%w: embedding has %d dimensions, want %d",
			ErrInvalidItem, len(item.Embedding), s.cfg.EmbeddingDim)
	}

	if item.Embedding != nil || s.embedder == nil {
		return nil
	}
	if _, ok := s.embedKinds[item.Kind]; !ok {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, item.Body.Text)
	if err != nil {
		s.log.Warn("Embedding failed, storing without vector",
			"memory_id", item.ID, "kind", item.Kind, "error", err)
		return nil
	}
	if len(vec) != s.cfg.EmbeddingDim {
		s.log.Warn("Embedder returned wrong dimension, storing without vector",
			"memory_id", item.ID, "got", len(vec), "want", s.cfg.EmbeddingDim)
		return nil
	}
	item.Embedding = vec
	return nil
}

// execer covers both a pooled connection and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func insertItem(ctx context.Context, conn execer, item *models.MemoryItem) error {
	var vec *string
	if item.Embedding != nil {
		v := pgvector.NewVector(item.Embedding).String()
		vec = &v
	}
	_, err := conn.Exec(ctx, `INSERT INTO memories
		(id, agent_id, room_id, entity_id, kind, body, embedding, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7::vector,$8)`,
		item.ID, item.AgentID, item.RoomID, item.EntityID, item.Kind,
		item.Body, vec, item.CreatedAt)
	return err
}

// GetRecent returns the newest items for a room, newest first. The limit is
// clamped to the configured maximum.
func (s *Store) GetRecent(ctx context.Context, roomID string, limit int) ([]models.MemoryItem, error) {
	if limit <= 0 || limit > s.cfg.MaxRecent {
		limit = s.cfg.MaxRecent
	}
	var items []models.MemoryItem
	err := s.router.ReadSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `SELECT id, agent_id, room_id, entity_id,
			kind, body, embedding::text, created_at
			FROM memories WHERE room_id=$1
			ORDER BY created_at DESC LIMIT $2`, roomID, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		items = items[:0]
		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// List pages a room's items newest first. A zero before starts from the
// top; otherwise only items strictly older than before are returned.
func (s *Store) List(ctx context.Context, roomID string, before time.Time, limit int) ([]models.MemoryItem, error) {
	if limit <= 0 || limit > s.cfg.MaxRecent {
		limit = s.cfg.MaxRecent
	}
	var cursor *time.Time
	if !before.IsZero() {
		cursor = &before
	}
	var items []models.MemoryItem
	err := s.router.ReadSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `SELECT id, agent_id, room_id, entity_id,
			kind, body, embedding::text, created_at
			FROM memories WHERE room_id=$1
			AND ($2::timestamptz IS NULL OR created_at < $2)
			ORDER BY created_at DESC LIMIT $3`, roomID, cursor, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		items = items[:0]
		for rows.Next() {
			item, err := scanItem(rows)
			if err != nil {
				return err
			}
			items = append(items, item)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return items, nil
}

// Search runs cosine top-K over the room's embedded items on the session
// pool. Results below minSimilarity are cut; equal similarities rank newer
// items first.
func (s *Store) Search(ctx context.Context, roomID, query string, k int, minSimilarity float64) ([]models.ScoredMemory, error) {
	if s.embedder == nil {
		return nil, fmt.Errorf("no embedder configured")
	}
	if k <= 0 {
		k = 10
	}
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vec) != s.cfg.EmbeddingDim {
		return nil, fmt.Errorf("%w: query vector has %d dimensions, want %d",
			ErrInvalidItem, len(vec), s.cfg.EmbeddingDim)
	}
	qv := pgvector.NewVector(vec).String()

	var out []models.ScoredMemory
	err = s.router.ReadComplex(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `SELECT id, agent_id, room_id, entity_id,
			kind, body, embedding::text, created_at,
			1 - (embedding <=> $2::vector) AS similarity
			FROM memories
			WHERE room_id=$1 AND embedding IS NOT NULL
			  AND 1 - (embedding <=> $2::vector) >= $3
			ORDER BY similarity DESC, created_at DESC
			LIMIT $4`, roomID, qv, minSimilarity, k)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var sm models.ScoredMemory
			sm.Item, err = scanItemN(rows, &sm.Similarity)
			if err != nil {
				return err
			}
			out = append(out, sm)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func scanItem(rows pgx.Rows) (models.MemoryItem, error) {
	return scanItemN(rows, nil)
}

func scanItemN(rows pgx.Rows, similarity *float64) (models.MemoryItem, error) {
	var (
		item models.MemoryItem
		vec  *string
	)
	dest := []any{&item.ID, &item.AgentID, &item.RoomID, &item.EntityID,
		&item.Kind, &item.Body, &vec, &item.CreatedAt}
	if similarity != nil {
		dest = append(dest, similarity)
	}
	if err := rows.Scan(dest...); err != nil {
		return models.MemoryItem{}, err
	}
	if vec != nil {
		var v pgvector.Vector
		if err := v.Scan(*vec); err != nil {
			return models.MemoryItem{}, fmt.Errorf("parsing stored vector: %w", err)
		}
		item.Embedding = v.Slice()
	}
	return item, nil
}
