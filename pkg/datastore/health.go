package datastore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rallyhouse/rally/pkg/metrics"
)

// degradeThreshold is how many consecutive probe failures mark a pool down.
const degradeThreshold = 3

// PoolHealth is one pool's health snapshot for the /health endpoint.
type PoolHealth struct {
	Degraded  bool      `json:"degraded"`
	Size      int       `json:"size"`
	InUse     int       `json:"in_use"`
	Waiting   int       `json:"waiting"`
	LastProbe time.Time `json:"last_probe,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Health is the router-wide health snapshot.
type Health struct {
	Status string                `json:"status"`
	Pools  map[string]PoolHealth `json:"pools"`
}

// prober pings both pools on an interval. Three consecutive failures mark a
// pool degraded; the router then fails fast on it until one probe succeeds.
type prober struct {
	router   *Router
	interval time.Duration
	log      *slog.Logger

	mu       sync.Mutex
	fails    map[Pool]int
	degraded map[Pool]bool
	lastErr  map[Pool]string
	lastAt   map[Pool]time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

func newProber(r *Router, interval time.Duration) *prober {
	return &prober{
		router:   r,
		interval: interval,
		log:      slog.With("component", "datastore.prober"),
		fails:    make(map[Pool]int),
		degraded: make(map[Pool]bool),
		lastErr:  make(map[Pool]string),
		lastAt:   make(map[Pool]time.Time),
	}
}

// Start launches the probe loop.
func (p *prober) Start(ctx context.Context) {
	if p.cancel != nil {
		return
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})
	go p.run(ctx)
	p.log.Info("Health probes started", "interval", p.interval)
}

// Stop signals the probe loop to exit and waits for it.
func (p *prober) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (p *prober) run(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probe(ctx, PoolTx)
			p.probe(ctx, PoolSess)
		}
	}
}

func (p *prober) probe(ctx context.Context, pool Pool) {
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var one int
	err := p.router.pgxPool(pool).QueryRow(pctx, "SELECT 1").Scan(&one)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastAt[pool] = time.Now().UTC()

	if err != nil {
		p.fails[pool]++
		p.lastErr[pool] = err.Error()
		if p.fails[pool] >= degradeThreshold && !p.degraded[pool] {
			p.degraded[pool] = true
			metrics.PoolDegraded.WithLabelValues(string(pool)).Set(1)
			p.log.Error("Pool marked degraded", "pool", pool, "consecutive_failures", p.fails[pool], "error", err)
		}
		return
	}

	p.fails[pool] = 0
	p.lastErr[pool] = ""
	if p.degraded[pool] {
		p.degraded[pool] = false
		metrics.PoolDegraded.WithLabelValues(string(pool)).Set(0)
		p.log.Info("Pool recovered", "pool", pool)
	}
}

// markDegraded flags a pool down outside the probe loop (startup ping
// failure).
func (p *prober) markDegraded(pool Pool, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.degraded[pool] = true
	p.fails[pool] = degradeThreshold
	p.lastErr[pool] = err.Error()
	metrics.PoolDegraded.WithLabelValues(string(pool)).Set(1)
}

func (p *prober) isDegraded(pool Pool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.degraded[pool]
}

// Health returns the current router health snapshot.
func (r *Router) Health() Health {
	r.prober.mu.Lock()
	defer r.prober.mu.Unlock()

	pools := map[string]PoolHealth{
		string(PoolTx): {
			Degraded:  r.prober.degraded[PoolTx],
			Size:      r.cfg.PoolTxSize,
			InUse:     r.txGate.inUse(),
			Waiting:   r.txGate.waiters(),
			LastProbe: r.prober.lastAt[PoolTx],
			LastError: r.prober.lastErr[PoolTx],
		},
		string(PoolSess): {
			Degraded:  r.prober.degraded[PoolSess],
			Size:      r.cfg.PoolSessSize,
			InUse:     r.sessGate.inUse(),
			Waiting:   r.sessGate.waiters(),
			LastProbe: r.prober.lastAt[PoolSess],
			LastError: r.prober.lastErr[PoolSess],
		},
	}

	status := "healthy"
	switch {
	case r.prober.degraded[PoolTx] && r.prober.degraded[PoolSess]:
		status = "unhealthy"
	case r.prober.degraded[PoolTx] || r.prober.degraded[PoolSess]:
		status = "degraded"
	}

	return Health{Status: status, Pools: pools}
}
