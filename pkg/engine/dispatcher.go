package engine

import (
	"context"
	"errors"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rallyhouse/rally/pkg/bus"
	"github.com/rallyhouse/rally/pkg/config"
	"github.com/rallyhouse/rally/pkg/metrics"
	"github.com/rallyhouse/rally/pkg/models"
	"github.com/rallyhouse/rally/pkg/session"
)

// ErrQueueFull is returned by Enqueue when the lane is at capacity.
var ErrQueueFull = errors.New("dispatch queue full")

const laneDepth = 256

// MemoryWriter is the slice of the memory store the dispatcher needs.
type MemoryWriter interface {
	PutMany(ctx context.Context, items []*models.MemoryItem) error
}

// Job is one message on its way to the model engine.
type Job struct {
	SessionID      uuid.UUID
	AgentID        string
	RoomID         string
	Incoming       models.InboundMessage
	Classification models.Classification
	Request        Request

	// Reply delivers the final text back to the source platform. Optional.
	Reply func(ctx context.Context, text string) error
}

// laneSet is one worker's pair of job lanes.
type laneSet struct {
	normal   chan Job
	priority chan Job
}

// Dispatcher drains sharded job lanes through a worker pool, a priority
// lane per shard for emergency classifications and a normal lane for
// everything else. Jobs shard by session id, so each session is pinned
// to a single worker and its messages run one at a time.
type Dispatcher struct {
	cfg      config.EngineConfig
	engine   Engine
	memories MemoryWriter
	sessions *session.Manager
	bus      *bus.Bus
	human    *humanizer
	log      *slog.Logger

	shards []laneSet

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a Dispatcher. memories may be nil to skip turn
// persistence.
func NewDispatcher(cfg config.EngineConfig, eng Engine, memories MemoryWriter, sessions *session.Manager, b *bus.Bus) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	shards := make([]laneSet, cfg.Workers)
	for i := range shards {
		shards[i] = laneSet{
			normal:   make(chan Job, laneDepth),
			priority: make(chan Job, laneDepth),
		}
	}
	return &Dispatcher{
		cfg:      cfg,
		engine:   eng,
		memories: memories,
		sessions: sessions,
		bus:      b,
		human:    newHumanizer(cfg.TypoRate, cfg.ContradictionRate, cfg.HumanizeSeed),
		log:      slog.With("component", "dispatcher"),
		shards:   shards,
	}
}

// Start launches the worker pool. Idempotent.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancel != nil {
		return
	}
	ctx, d.cancel = context.WithCancel(ctx)
	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(ctx, d.shards[i])
	}
	d.log.Info("Dispatcher started", "workers", d.cfg.Workers)
}

// Stop cancels the workers and waits for in-flight jobs.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	d.wg.Wait()
	d.log.Info("Dispatcher stopped")
}

// Enqueue queues a job on its session's shard; emergency classifications
// take the shard's priority lane, which the worker always drains first.
func (d *Dispatcher) Enqueue(job Job) error {
	shard := d.shards[d.shardIndex(job.SessionID)]
	lane := shard.normal
	laneName := "normal"
	if job.Classification.Category == models.CategoryEmergency {
		lane = shard.priority
		laneName = "priority"
	}
	select {
	case lane <- job:
		metrics.DispatchQueued.WithLabelValues(laneName).Inc()
		return nil
	default:
		metrics.DispatchRejected.WithLabelValues(laneName).Inc()
		return ErrQueueFull
	}
}

func (d *Dispatcher) shardIndex(id uuid.UUID) int {
	h := fnv.New32a()
	h.Write(id[:])
	return int(h.Sum32() % uint32(len(d.shards)))
}

func (d *Dispatcher) worker(ctx context.Context, lanes laneSet) {
	defer d.wg.Done()
	for {
		// Priority jobs preempt the normal lane.
		select {
		case job := <-lanes.priority:
			d.process(ctx, job)
			continue
		default:
		}
		select {
		case <-ctx.Done():
			return
		case job := <-lanes.priority:
			d.process(ctx, job)
		case job := <-lanes.normal:
			d.process(ctx, job)
		}
	}
}

func (d *Dispatcher) process(ctx context.Context, job Job) {
	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	resp, err := d.engine.Complete(callCtx, job.Request)
	if err != nil {
		metrics.EngineRequests.WithLabelValues("error").Inc()
		d.log.Error("Engine call failed",
			"session_id", job.SessionID, "category", job.Classification.Category, "error", err)
		return
	}
	metrics.EngineRequests.WithLabelValues("ok").Inc()
	metrics.EngineDuration.Observe(time.Since(start).Seconds())
	metrics.EngineTokens.Add(float64(resp.TokensUsed))

	text := d.human.apply(resp.Text)

	s, err := d.sessions.UpdateActivity(ctx, job.SessionID, 1)
	if err != nil {
		d.log.Warn("Session activity bump failed",
			"session_id", job.SessionID, "error", err)
	}

	d.persistTurns(ctx, job, text)

	payload := bus.SessionMessagePayload{
		SessionID:      job.SessionID.String(),
		AgentID:        job.AgentID,
		RoomID:         job.RoomID,
		UserText:       job.Incoming.Text,
		ResponseText:   text,
		Classification: job.Classification,
	}
	if s != nil {
		payload.MessageCount = s.MessageCount
	}
	d.bus.PublishSessionMessage(payload)

	if job.Reply != nil {
		if err := job.Reply(ctx, text); err != nil {
			d.log.Warn("Platform reply failed",
				"session_id", job.SessionID, "platform", job.Incoming.SourcePlatform, "error", err)
		}
	}
}

// persistTurns writes the user and agent turns as one memory batch.
func (d *Dispatcher) persistTurns(ctx context.Context, job Job, responseText string) {
	if d.memories == nil {
		return
	}
	now := time.Now().UTC()
	turns := []*models.MemoryItem{
		{
			AgentID:  job.AgentID,
			RoomID:   job.RoomID,
			EntityID: job.Incoming.SourceUserKey,
			Kind:     models.MemoryKindMessage,
			Body: models.MemoryBody{
				Text: job.Incoming.Text,
				Fields: map[string]any{
					"role":       models.RoleUser,
					"session_id": job.SessionID.String(),
					"platform":   job.Incoming.SourcePlatform,
				},
			},
			CreatedAt: now,
		},
		{
			AgentID: job.AgentID,
			RoomID:  job.RoomID,
			Kind:    models.MemoryKindMessage,
			Body: models.MemoryBody{
				Text: responseText,
				Fields: map[string]any{
					"role":       models.RoleAgent,
					"session_id": job.SessionID.String(),
				},
			},
			CreatedAt: now.Add(time.Millisecond),
		},
	}
	if err := d.memories.PutMany(ctx, turns); err != nil {
		d.log.Error("Persisting turn pair failed",
			"session_id", job.SessionID, "error", err)
	}
}
