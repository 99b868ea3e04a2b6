// Package session owns the session lifecycle: creation, activity tracking,
// renewal, expiry, and the background cleanup sweep. All session mutation
// funnels through the Manager; other components only ever see snapshots.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rallyhouse/rally/pkg/bus"
	"github.com/rallyhouse/rally/pkg/config"
	"github.com/rallyhouse/rally/pkg/metrics"
	"github.com/rallyhouse/rally/pkg/models"
)

// CreateParams are the caller-supplied fields for a new session. Zero
// TimeoutMS falls back to the configured default; zero RenewalPolicy
// defaults to on-activity.
type CreateParams struct {
	AgentID       string
	UserID        string
	RoomID        string
	Kind          models.SessionKind
	TimeoutMS     int64
	RenewalPolicy models.RenewalPolicy
	Metadata      map[string]any
	Raid          *models.RaidState
}

// Manager holds the authoritative in-memory table of live sessions with a
// write-through to the Store. Mutations are serialized per session by a
// per-id lock, and readers clone under that same lock; m.mu only guards the
// table itself. Every session in m.sessions has its lock in m.locks.
type Manager struct {
	cfg   config.SessionConfig
	store Store
	bus   *bus.Bus
	log   *slog.Logger

	mu       sync.RWMutex
	sessions map[uuid.UUID]*models.Session
	locks    map[uuid.UUID]*sync.Mutex

	sweeping sync.Mutex // single-flight guard for the cleanup sweep
	now      func() time.Time

	cancel context.CancelFunc
	done   chan struct{}

	// onDegraded fires when the sweep loop fails three times in a row.
	onDegraded func(loop string, err error)
}

// NewManager creates a Manager.
func NewManager(cfg config.SessionConfig, store Store, b *bus.Bus) *Manager {
	return &Manager{
		cfg:      cfg,
		store:    store,
		bus:      b,
		log:      slog.With("component", "session"),
		sessions: make(map[uuid.UUID]*models.Session),
		locks:    make(map[uuid.UUID]*sync.Mutex),
		now:      time.Now,
	}
}

// SetDegradedHook installs the loop-degraded callback. Call before Start.
func (m *Manager) SetDegradedHook(fn func(loop string, err error)) {
	m.onDegraded = fn
}

// Warm loads active sessions from the store into memory. Called once at
// startup, before any traffic.
func (m *Manager) Warm(ctx context.Context) error {
	active, err := m.store.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("warming session table: %w", err)
	}
	m.mu.Lock()
	for _, s := range active {
		m.sessions[s.ID] = s
		m.locks[s.ID] = &sync.Mutex{}
	}
	m.mu.Unlock()
	metrics.ActiveSessions.Set(float64(len(active)))
	if len(active) > 0 {
		m.log.Info("Warmed session table", "active", len(active))
	}
	return nil
}

// Create allocates and persists a new session and publishes
// session.created.
func (m *Manager) Create(ctx context.Context, p CreateParams) (*models.Session, error) {
	if p.AgentID == "" {
		return nil, fmt.Errorf("%w: agent_id is required", ErrInvalidConfig)
	}
	if p.Kind == "" {
		p.Kind = models.KindConversation
	}
	if !p.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidConfig, p.Kind)
	}
	if p.RenewalPolicy == "" {
		p.RenewalPolicy = models.RenewOnActivity
	}
	if !p.RenewalPolicy.Valid() {
		return nil, fmt.Errorf("%w: unknown renewal_policy %q", ErrInvalidConfig, p.RenewalPolicy)
	}
	if p.TimeoutMS < 0 {
		return nil, fmt.Errorf("%w: timeout_ms must be non-negative", ErrInvalidConfig)
	}
	if p.TimeoutMS == 0 {
		p.TimeoutMS = m.cfg.DefaultTimeout.Milliseconds()
	}
	if (p.Kind == models.KindRaid) != (p.Raid != nil) {
		return nil, fmt.Errorf("%w: raid state is required for kind=raid and forbidden otherwise", ErrInvalidConfig)
	}

	now := m.now().UTC()
	s := &models.Session{
		ID:             uuid.New(),
		AgentID:        p.AgentID,
		UserID:         p.UserID,
		RoomID:         p.RoomID,
		Kind:           p.Kind,
		State:          models.SessionActive,
		CreatedAt:      now,
		LastActivityAt: now,
		ExpiresAt:      now.Add(time.Duration(p.TimeoutMS) * time.Millisecond),
		TimeoutMS:      p.TimeoutMS,
		RenewalPolicy:  p.RenewalPolicy,
		Metadata:       p.Metadata,
		Raid:           p.Raid,
	}

	if err := m.store.Insert(ctx, s); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.locks[s.ID] = &sync.Mutex{}
	m.mu.Unlock()

	metrics.ActiveSessions.Inc()
	m.bus.PublishSessionLifecycle(bus.EventSessionCreated, s, "")
	m.log.Info("Session created",
		"session_id", s.ID, "agent_id", s.AgentID, "kind", s.Kind,
		"expires_at", s.ExpiresAt)
	return s.Clone(), nil
}

// Get returns a snapshot. Terminal sessions return their terminal snapshot,
// not nil. Sessions missing from memory are read through from the store.
func (m *Manager) Get(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	lock, s, err := m.checkout(id)
	if err != nil {
		return m.store.Get(ctx, id)
	}
	lock.Lock()
	defer lock.Unlock()
	return s.Clone(), nil
}

// FindOrCreateForRoom returns the active session for an (agent, room) pair,
// creating one when none exists. This is the first-ingress attach path.
func (m *Manager) FindOrCreateForRoom(ctx context.Context, agentID, roomID string, kind models.SessionKind) (*models.Session, error) {
	now := m.now()

	// AgentID/RoomID never change after creation, so matching under the
	// table lock is safe; state and expiry are read under the session lock.
	m.mu.RLock()
	var candidates []lockedSession
	for id, s := range m.sessions {
		if s.AgentID == agentID && s.RoomID == roomID {
			candidates = append(candidates, lockedSession{s, m.locks[id]})
		}
	}
	m.mu.RUnlock()

	for _, c := range candidates {
		c.lock.Lock()
		if c.s.EffectiveState(now) == models.SessionActive {
			snap := c.s.Clone()
			c.lock.Unlock()
			return snap, nil
		}
		c.lock.Unlock()
	}

	return m.Create(ctx, CreateParams{
		AgentID: agentID,
		RoomID:  roomID,
		Kind:    kind,
	})
}

// UpdateActivity bumps last_activity_at, adds delta to the message count,
// and renews the expiry when the policy is on-activity. It returns the
// post-mutation snapshot.
func (m *Manager) UpdateActivity(ctx context.Context, id uuid.UUID, delta int64) (*models.Session, error) {
	return m.mutateActive(ctx, id, func(s *models.Session, now time.Time) {
		s.LastActivityAt = now
		if delta > 0 {
			s.MessageCount += delta
		}
		if s.RenewalPolicy == models.RenewOnActivity {
			s.ExpiresAt = now.Add(s.Timeout())
		}
	})
}

// Heartbeat is UpdateActivity without a counter increment.
func (m *Manager) Heartbeat(ctx context.Context, id uuid.UUID) error {
	_, err := m.UpdateActivity(ctx, id, 0)
	return err
}

// Renew explicitly extends an active session. A zero extra extends by the
// session's own timeout. Returns the new expiry.
func (m *Manager) Renew(ctx context.Context, id uuid.UUID, extra time.Duration) (time.Time, error) {
	if extra <= 0 {
		extra = 0
	}
	s, err := m.mutateActive(ctx, id, func(s *models.Session, now time.Time) {
		d := extra
		if d == 0 {
			d = s.Timeout()
		}
		s.ExpiresAt = now.Add(d)
		s.LastActivityAt = now
	})
	if err != nil {
		return time.Time{}, err
	}
	return s.ExpiresAt, nil
}

// End transitions a session to a terminal state, freezes it, and publishes
// session.ended. Ending an already-terminal session is a no-op error.
func (m *Manager) End(ctx context.Context, id uuid.UUID, state models.SessionState, reason string) error {
	if !state.Terminal() {
		return fmt.Errorf("%w: %q is not a terminal state", ErrInvalidConfig, state)
	}
	lock, s, err := m.checkout(id)
	if err != nil {
		return err
	}
	lock.Lock()
	defer lock.Unlock()

	if s.State.Terminal() {
		return ErrNotActive
	}
	now := m.now().UTC()
	s.State = state
	s.EndedAt = &now
	if err := m.store.Update(ctx, s); err != nil {
		return fmt.Errorf("persisting session end: %w", err)
	}

	metrics.ActiveSessions.Dec()
	m.bus.PublishSessionLifecycle(bus.EventSessionEnded, s, reason)
	m.log.Info("Session ended", "session_id", id, "state", state, "reason", reason)
	return nil
}

// Mutate runs fn on the live record under the session lock and persists the
// result. It rejects terminal and expired sessions. The raid coordinator
// uses this to keep raid state changes serialized with session mutation.
func (m *Manager) Mutate(ctx context.Context, id uuid.UUID, fn func(s *models.Session) error) (*models.Session, error) {
	lock, s, err := m.checkout(id)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()

	if s.EffectiveState(m.now()) != models.SessionActive {
		return nil, ErrNotActive
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	if err := m.store.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}
	return s.Clone(), nil
}

// MutateAny is Mutate without the active check: fn may run on a session in
// any state, including terminal transitions driven by the raid coordinator.
func (m *Manager) MutateAny(ctx context.Context, id uuid.UUID, fn func(s *models.Session) error) (*models.Session, error) {
	lock, s, err := m.checkout(id)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()

	if err := fn(s); err != nil {
		return nil, err
	}
	if err := m.store.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}
	return s.Clone(), nil
}

// Snapshot returns clones of every in-memory session, for stats and tests.
func (m *Manager) Snapshot() []*models.Session {
	entries := m.scan()
	out := make([]*models.Session, 0, len(entries))
	for _, e := range entries {
		e.lock.Lock()
		out = append(out, e.s.Clone())
		e.lock.Unlock()
	}
	return out
}

// lockedSession pairs a live record with its lock, for scans that read
// mutable fields outside the table lock.
type lockedSession struct {
	s    *models.Session
	lock *sync.Mutex
}

// scan returns every live record with its lock. Callers must take each
// session's lock before touching mutable fields.
func (m *Manager) scan() []lockedSession {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]lockedSession, 0, len(m.sessions))
	for id, s := range m.sessions {
		out = append(out, lockedSession{s, m.locks[id]})
	}
	return out
}

// mutateActive applies fn under the session lock after the active check.
// The expiry boundary is strict: a session at exactly expires_at is already
// expired.
func (m *Manager) mutateActive(ctx context.Context, id uuid.UUID, fn func(s *models.Session, now time.Time)) (*models.Session, error) {
	lock, s, err := m.checkout(id)
	if err != nil {
		return nil, err
	}
	lock.Lock()
	defer lock.Unlock()

	now := m.now().UTC()
	if s.EffectiveState(now) != models.SessionActive {
		return nil, ErrNotActive
	}
	fn(s, now)
	if err := m.store.Update(ctx, s); err != nil {
		return nil, fmt.Errorf("persisting session: %w", err)
	}
	return s.Clone(), nil
}

// checkout resolves the live record and its lock without acquiring it.
func (m *Manager) checkout(id uuid.UUID) (*sync.Mutex, *models.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, nil, ErrNotFound
	}
	return m.locks[id], s, nil
}
