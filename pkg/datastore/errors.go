package datastore

import "errors"

var (
	// ErrBackpressure indicates the pool's wait queue is full. Callers may
	// retry after a short delay.
	ErrBackpressure = errors.New("pool wait queue full")

	// ErrPoolTimeout indicates the checkout exceeded its wall-clock budget.
	ErrPoolTimeout = errors.New("pool checkout timed out")

	// ErrPoolDegraded indicates health probes marked the pool down; the
	// router fails fast until a probe succeeds.
	ErrPoolDegraded = errors.New("pool degraded")

	// ErrPoolUnreachable indicates no pool could be reached at startup.
	ErrPoolUnreachable = errors.New("pools unreachable")
)
