// Package datastore routes queries to one of two PostgreSQL connection
// pools: a transaction pool for short-lived statements and a session pool
// for long-running, joining, or vector-involving queries.
package datastore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rallyhouse/rally/pkg/config"
	"github.com/rallyhouse/rally/pkg/metrics"
)

// Op is one unit of database work executed on a checked-out connection.
// The context carries the checkout's wall-clock budget.
type Op func(ctx context.Context, conn *pgxpool.Conn) error

// Router owns both pools and their wait gates. All persistence in the
// process goes through it.
type Router struct {
	cfg    config.DatabaseConfig
	log    *slog.Logger
	dbName string

	tx   *pgxpool.Pool
	sess *pgxpool.Pool

	txGate   *gate
	sessGate *gate

	prober *prober
}

// Open connects both pools and pings them. It fails with ErrPoolUnreachable
// only when neither pool answers; a single unreachable pool starts degraded
// and the health prober keeps trying to bring it back.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Router, error) {
	r := &Router{
		cfg:      cfg,
		log:      slog.With("component", "datastore"),
		txGate:   newGate(cfg.PoolTxSize, cfg.WaitQueue),
		sessGate: newGate(cfg.PoolSessSize, cfg.WaitQueue),
	}

	var err error
	if r.tx, r.dbName, err = newPool(ctx, cfg.URL, cfg.PoolTxSize); err != nil {
		return nil, fmt.Errorf("opening tx pool: %w", err)
	}
	if r.sess, _, err = newPool(ctx, cfg.URL, cfg.PoolSessSize); err != nil {
		r.tx.Close()
		return nil, fmt.Errorf("opening sess pool: %w", err)
	}

	r.prober = newProber(r, cfg.HealthInterval)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	txErr := r.tx.Ping(pingCtx)
	sessErr := r.sess.Ping(pingCtx)
	if txErr != nil && sessErr != nil {
		r.Close()
		return nil, fmt.Errorf("%w: tx: %v, sess: %v", ErrPoolUnreachable, txErr, sessErr)
	}
	if txErr != nil {
		r.prober.markDegraded(PoolTx, txErr)
	}
	if sessErr != nil {
		r.prober.markDegraded(PoolSess, sessErr)
	}

	r.log.Info("Datastore router connected",
		"pool_tx", cfg.PoolTxSize, "pool_sess", cfg.PoolSessSize, "wait_queue", cfg.WaitQueue)
	return r, nil
}

func newPool(ctx context.Context, url string, size int) (*pgxpool.Pool, string, error) {
	pcfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, "", fmt.Errorf("parsing database url: %w", err)
	}
	pcfg.MaxConns = int32(size)
	pcfg.MaxConnLifetime = 30 * time.Minute
	pcfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, "", err
	}
	return pool, pcfg.ConnConfig.Database, nil
}

// StartHealthProbes launches the periodic pool prober.
func (r *Router) StartHealthProbes(ctx context.Context) {
	r.prober.Start(ctx)
}

// Close stops probes and closes both pools.
func (r *Router) Close() {
	if r.prober != nil {
		r.prober.Stop()
	}
	if r.tx != nil {
		r.tx.Close()
	}
	if r.sess != nil {
		r.sess.Close()
	}
}

// RunSimple executes a write-ish op on the transaction pool. No auto-retry.
func (r *Router) RunSimple(ctx context.Context, op Op) error {
	return r.run(ctx, PoolTx, op, false)
}

// ReadSimple executes an idempotent read on the transaction pool, retrying
// on connection errors.
func (r *Router) ReadSimple(ctx context.Context, op Op) error {
	return r.run(ctx, PoolTx, op, true)
}

// RunComplex executes a write-ish op on the session pool. No auto-retry.
func (r *Router) RunComplex(ctx context.Context, op Op) error {
	return r.run(ctx, PoolSess, op, false)
}

// ReadComplex executes an idempotent read on the session pool, retrying on
// connection errors.
func (r *Router) ReadComplex(ctx context.Context, op Op) error {
	return r.run(ctx, PoolSess, op, true)
}

// ReadRouted classifies stmt and executes op as an idempotent read on the
// pool the heuristic picks. Writes must use RunSimple/RunComplex.
func (r *Router) ReadRouted(ctx context.Context, stmt string, op Op) error {
	if Classify(stmt) == PoolSess {
		return r.ReadComplex(ctx, op)
	}
	return r.ReadSimple(ctx, op)
}

func (r *Router) run(ctx context.Context, pool Pool, op Op, read bool) error {
	if r.prober.isDegraded(pool) {
		metrics.PoolCheckouts.WithLabelValues(string(pool), "degraded").Inc()
		return fmt.Errorf("%s pool: %w", pool, ErrPoolDegraded)
	}
	if !read {
		return r.attempt(ctx, pool, op)
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.Multiplier = 4
	bo.RandomizationFactor = 0

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := r.attempt(ctx, pool, op)
		if err != nil && !isConnErr(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(r.cfg.ReadRetries)+1),
		backoff.WithNotify(func(err error, d time.Duration) {
			r.log.Warn("Retrying read after connection error", "pool", pool, "delay", d, "error", err)
		}),
	)
	return err
}

// attempt performs one checkout: gate, pool acquire, op, all under the
// pool's wall-clock budget.
func (r *Router) attempt(ctx context.Context, pool Pool, op Op) error {
	cctx, cancel := context.WithTimeout(ctx, r.budget(pool))
	defer cancel()

	g := r.gate(pool)
	metrics.PoolWaiters.WithLabelValues(string(pool)).Set(float64(g.waiters()))
	if err := g.acquire(cctx); err != nil {
		return r.mapAcquireErr(ctx, cctx, pool, err)
	}
	defer g.release()

	conn, err := r.pgxPool(pool).Acquire(cctx)
	if err != nil {
		return r.mapAcquireErr(ctx, cctx, pool, err)
	}
	defer conn.Release()

	if err := op(cctx, conn); err != nil {
		if cctx.Err() != nil && ctx.Err() == nil {
			metrics.PoolCheckouts.WithLabelValues(string(pool), "timeout").Inc()
			return fmt.Errorf("%s pool: %w", pool, ErrPoolTimeout)
		}
		return err
	}
	metrics.PoolCheckouts.WithLabelValues(string(pool), "ok").Inc()
	return nil
}

// mapAcquireErr distinguishes backpressure, the checkout budget expiring,
// and caller cancellation.
func (r *Router) mapAcquireErr(ctx, cctx context.Context, pool Pool, err error) error {
	switch {
	case errors.Is(err, ErrBackpressure):
		metrics.PoolCheckouts.WithLabelValues(string(pool), "backpressure").Inc()
		return fmt.Errorf("%s pool: %w", pool, ErrBackpressure)
	case cctx.Err() != nil && ctx.Err() == nil:
		metrics.PoolCheckouts.WithLabelValues(string(pool), "timeout").Inc()
		return fmt.Errorf("%s pool: %w", pool, ErrPoolTimeout)
	default:
		return err
	}
}

func (r *Router) budget(pool Pool) time.Duration {
	if pool == PoolSess {
		return r.cfg.ComplexTimeout
	}
	return r.cfg.SimpleTimeout
}

func (r *Router) gate(pool Pool) *gate {
	if pool == PoolSess {
		return r.sessGate
	}
	return r.txGate
}

func (r *Router) pgxPool(pool Pool) *pgxpool.Pool {
	if pool == PoolSess {
		return r.sess
	}
	return r.tx
}

// isConnErr reports whether err looks like a connection-level failure worth
// retrying for idempotent reads. Server-reported statement errors and the
// router's own rejections are not.
func isConnErr(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return false
	}
	if errors.Is(err, ErrBackpressure) || errors.Is(err, ErrPoolTimeout) ||
		errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return pgconn.SafeToRetry(err)
}
