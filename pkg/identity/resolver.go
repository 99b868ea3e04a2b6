// Package identity maps platform-scoped user ids to stable internal ids.
// Bindings live in the identities table; Resolve fronts them with a small
// expiring cache since every inbound message resolves its sender.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rallyhouse/rally/pkg/datastore"
	"github.com/rallyhouse/rally/pkg/models"
)

var (
	// ErrConflictingVerification means both merge sides hold verified
	// bindings on the same platform with different platform ids. Never
	// merged automatically.
	ErrConflictingVerification = errors.New("conflicting verified bindings")

	// ErrNotFound is returned when no binding exists for the lookup.
	ErrNotFound = errors.New("identity not found")
)

const (
	cacheSize = 4096
	cacheTTL  = 5 * time.Minute
)

// Resolver resolves and links identities.
type Resolver struct {
	router *datastore.Router
	log    *slog.Logger
	cache  *expirable.LRU[string, uuid.UUID]
}

// NewResolver creates a Resolver.
func NewResolver(router *datastore.Router) *Resolver {
	return &Resolver{
		router: router,
		log:    slog.With("component", "identity"),
		cache:  expirable.NewLRU[string, uuid.UUID](cacheSize, nil, cacheTTL),
	}
}

func cacheKey(platform, platformID string) string {
	return platform + "\x00" + platformID
}

// mergeOrder picks the surviving internal id for a link: the
// lexicographically smaller one, so repeated merges converge.
func mergeOrder(a, b uuid.UUID) (survivor, absorbed uuid.UUID) {
	if b.String() < a.String() {
		return b, a
	}
	return a, b
}

// Resolve returns the internal id bound to (platform, platformID),
// allocating a fresh one on first sight. Idempotent under concurrent
// callers: the insert upserts and re-reads the winning row.
func (r *Resolver) Resolve(ctx context.Context, platform, platformID string) (uuid.UUID, error) {
	if platform == "" || platformID == "" {
		return uuid.Nil, fmt.Errorf("platform and platform id are required")
	}
	key := cacheKey(platform, platformID)
	if id, ok := r.cache.Get(key); ok {
		return id, nil
	}

	var internalID uuid.UUID
	err := r.router.RunSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		// ON CONFLICT DO NOTHING plus re-read keeps concurrent first
		// sights convergent on one internal id.
		_, err := conn.Exec(ctx, `INSERT INTO identities
			(platform, platform_id, internal_id, verified, linked_at)
			VALUES ($1, $2, $3, FALSE, $4)
			ON CONFLICT (platform, platform_id) DO NOTHING`,
			platform, platformID, uuid.New(), time.Now().UTC())
		if err != nil {
			return err
		}
		return conn.QueryRow(ctx, `SELECT internal_id FROM identities
			WHERE platform=$1 AND platform_id=$2`,
			platform, platformID).Scan(&internalID)
	})
	if err != nil {
		return uuid.Nil, err
	}

	r.cache.Add(key, internalID)
	return internalID, nil
}

// SetVerified flips the verified flag on an existing binding.
func (r *Resolver) SetVerified(ctx context.Context, platform, platformID string, verified bool) error {
	return r.router.RunSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tag, err := conn.Exec(ctx, `UPDATE identities SET verified=$3
			WHERE platform=$1 AND platform_id=$2`, platform, platformID, verified)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Link merges two internal ids into one. The lexicographically smaller id
// survives; every binding of the other moves over in a single transaction.
// Merging is refused when both sides carry verified bindings for the same
// platform with different platform ids.
func (r *Resolver) Link(ctx context.Context, a, b uuid.UUID) (uuid.UUID, error) {
	if a == b {
		return a, nil
	}
	survivor, absorbed := mergeOrder(a, b)

	err := r.router.RunSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		tx, err := conn.Begin(ctx)
		if err != nil {
			return err
		}
		defer tx.Rollback(ctx)

		var conflicts int
		err = tx.QueryRow(ctx, `SELECT COUNT(*) FROM identities x
			JOIN identities y ON x.platform = y.platform
			WHERE x.internal_id=$1 AND y.internal_id=$2
			  AND x.verified AND y.verified
			  AND x.platform_id <> y.platform_id`,
			survivor, absorbed).Scan(&conflicts)
		if err != nil {
			return err
		}
		if conflicts > 0 {
			return ErrConflictingVerification
		}

		if _, err := tx.Exec(ctx, `UPDATE identities SET internal_id=$1
			WHERE internal_id=$2`, survivor, absorbed); err != nil {
			return err
		}
		return tx.Commit(ctx)
	})
	if err != nil {
		return uuid.Nil, err
	}

	// Bindings that pointed at the absorbed id are stale in the cache.
	r.cache.Purge()
	r.log.Info("Identities linked", "survivor", survivor, "absorbed", absorbed)
	return survivor, nil
}

// ListBindings returns every binding of one internal id.
func (r *Resolver) ListBindings(ctx context.Context, internalID uuid.UUID) ([]models.IdentityBinding, error) {
	var out []models.IdentityBinding
	err := r.router.ReadSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		rows, err := conn.Query(ctx, `SELECT internal_id, platform, platform_id,
			verified, linked_at FROM identities
			WHERE internal_id=$1 ORDER BY platform, platform_id`, internalID)
		if err != nil {
			return err
		}
		defer rows.Close()
		out = out[:0]
		for rows.Next() {
			var b models.IdentityBinding
			if err := rows.Scan(&b.InternalID, &b.Platform, &b.PlatformID,
				&b.Verified, &b.LinkedAt); err != nil {
				return err
			}
			out = append(out, b)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Lookup reads one binding without allocating.
func (r *Resolver) Lookup(ctx context.Context, platform, platformID string) (models.IdentityBinding, error) {
	var b models.IdentityBinding
	err := r.router.ReadSimple(ctx, func(ctx context.Context, conn *pgxpool.Conn) error {
		err := conn.QueryRow(ctx, `SELECT internal_id, platform, platform_id,
			verified, linked_at FROM identities
			WHERE platform=$1 AND platform_id=$2`, platform, platformID).
			Scan(&b.InternalID, &b.Platform, &b.PlatformID, &b.Verified, &b.LinkedAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return err
	})
	if err != nil {
		return models.IdentityBinding{}, err
	}
	return b, nil
}
