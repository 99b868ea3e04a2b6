// Package raid coordinates bounded-time multi-participant campaigns: the
// raid state machine, participant roster, action verification, point
// accounting, and leaderboards. A raid is a kind=raid session; all raid
// state mutation goes through the session manager's per-session lock.
package raid

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/rallyhouse/rally/pkg/bus"
	"github.com/rallyhouse/rally/pkg/config"
	"github.com/rallyhouse/rally/pkg/metrics"
	"github.com/rallyhouse/rally/pkg/models"
	"github.com/rallyhouse/rally/pkg/session"
)

// Notifier receives raid lifecycle notifications for ops channels.
// Implementations must be nil-safe no-ops when disabled.
type Notifier interface {
	RaidStarted(ctx context.Context, raidID, targetRef string, endsAt time.Time)
	RaidEnded(ctx context.Context, raidID string, status models.RaidStatus, top []*models.Participant)
}

// CreateParams describe a new raid.
type CreateParams struct {
	AgentID         string
	RoomID          string
	TargetRef       string
	Objectives      []models.Objective
	MaxParticipants int
	Duration        time.Duration
	AutoStart       *bool // nil: use the configured default
	Metadata        map[string]any
}

// JoinParams identify a joining participant.
type JoinParams struct {
	ParticipantID string
	PlatformID    string
	DisplayName   string
	SecondaryID   string
}

// ActionParams describe a submitted engagement claim.
type ActionParams struct {
	ParticipantID string
	ObjectiveType models.ObjectiveType
	Target        string
	Proof         []byte
}

// Metrics is the public progress snapshot for one raid.
type Metrics struct {
	RaidID          string                       `json:"raid_id"`
	Status          models.RaidStatus            `json:"status"`
	Totals          map[models.ObjectiveType]int `json:"totals"`
	Counts          map[models.ObjectiveType]int `json:"counts"`
	Participants    int                          `json:"participants"`
	TimeRemaining   time.Duration                `json:"time_remaining_ms"`
	CompletionRatio float64                      `json:"completion_ratio"`
}

// runtime is the per-raid process-local state: verification concurrency
// cap, monitor lifecycle, and the in-flight dedupe set.
type runtime struct {
	sessionID uuid.UUID
	ctx       context.Context
	cancel    context.CancelFunc
	sem       chan struct{}

	mu        sync.Mutex
	inflight  map[uuid.UUID]struct{}
	monitorOn bool
	done      chan struct{}
}

// Coordinator owns all raids in the process.
type Coordinator struct {
	cfg      config.RaidConfig
	sessions *session.Manager
	actions  ActionStore
	verifier Verifier
	bus      *bus.Bus
	notifier Notifier
	log      *slog.Logger

	mu       sync.Mutex
	runtimes map[string]*runtime
	rooms    map[string]string // room id -> raid id

	baseCtx context.Context
	now     func() time.Time

	// retryInterval seeds the verification retry schedule (then x4).
	retryInterval time.Duration

	// fatal aborts the process on a detected state-corruption invariant
	// violation. Overridden in tests.
	fatal func(msg string, args ...any)
}

// NewCoordinator creates a Coordinator. notifier may be nil.
func NewCoordinator(cfg config.RaidConfig, sessions *session.Manager, actions ActionStore, verifier Verifier, b *bus.Bus, notifier Notifier) *Coordinator {
	log := slog.With("component", "raid")
	return &Coordinator{
		cfg:           cfg,
		sessions:      sessions,
		actions:       actions,
		verifier:      verifier,
		bus:           b,
		notifier:      notifier,
		log:           log,
		runtimes:      make(map[string]*runtime),
		rooms:         make(map[string]string),
		baseCtx:       context.Background(),
		now:           time.Now,
		retryInterval: time.Second,
		fatal: func(msg string, args ...any) {
			log.Error(msg, args...)
			os.Exit(2)
		},
	}
}

// Start installs the base context monitors and verification tasks inherit.
func (c *Coordinator) Start(ctx context.Context) {
	c.baseCtx = ctx
}

// Stop cancels every raid's monitor and outstanding verification work.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	rts := make([]*runtime, 0, len(c.runtimes))
	for _, rt := range c.runtimes {
		rts = append(rts, rt)
	}
	c.mu.Unlock()

	for _, rt := range rts {
		rt.cancel()
		rt.mu.Lock()
		done := rt.done
		rt.mu.Unlock()
		if done != nil {
			<-done
		}
	}
	c.log.Info("Raid coordinator stopped", "raids", len(rts))
}

// Create allocates a raid-kind session in pending status.
func (c *Coordinator) Create(ctx context.Context, p CreateParams) (*models.Session, error) {
	if p.TargetRef == "" {
		return nil, fmt.Errorf("%w: target_ref is required", ErrInvalidParams)
	}
	if len(p.Objectives) == 0 {
		return nil, fmt.Errorf("%w: at least one objective is required", ErrInvalidParams)
	}
	seen := make(map[models.ObjectiveType]struct{}, len(p.Objectives))
	for _, o := range p.Objectives {
		if !o.Type.Valid() {
			return nil, fmt.Errorf("%w: unknown objective type %q", ErrInvalidParams, o.Type)
		}
		if _, dup := seen[o.Type]; dup {
			return nil, fmt.Errorf("%w: duplicate objective type %q", ErrInvalidParams, o.Type)
		}
		seen[o.Type] = struct{}{}
		if o.RequiredCount <= 0 || o.PointsPerAction < 0 {
			return nil, fmt.Errorf("%w: objective %q needs a positive required_count and non-negative points", ErrInvalidParams, o.Type)
		}
	}
	if p.MaxParticipants <= 0 {
		p.MaxParticipants = c.cfg.DefaultMaxParticipants
	}
	if p.Duration <= 0 {
		p.Duration = c.cfg.DefaultDuration
	}
	autoStart := c.cfg.AutoStart
	if p.AutoStart != nil {
		autoStart = *p.AutoStart
	}

	raidID, err := gonanoid.Generate("abcdefghijklmnopqrstuvwxyz0123456789", 10)
	if err != nil {
		return nil, fmt.Errorf("generating raid id: %w", err)
	}
	raidID = "raid-" + raidID

	state := &models.RaidState{
		RaidID:          raidID,
		TargetRef:       p.TargetRef,
		Objectives:      p.Objectives,
		Status:          models.RaidPending,
		AutoStart:       autoStart,
		DurationMS:      p.Duration.Milliseconds(),
		MaxParticipants: p.MaxParticipants,
		Participants:    make(map[string]*models.Participant),
		Counts:          make(map[models.ObjectiveType]int),
		Totals:          make(map[models.ObjectiveType]int),
	}

	s, err := c.sessions.Create(ctx, session.CreateParams{
		AgentID:       p.AgentID,
		RoomID:        p.RoomID,
		Kind:          models.KindRaid,
		RenewalPolicy: models.RenewOnActivity,
		Metadata:      p.Metadata,
		Raid:          state,
	})
	if err != nil {
		return nil, err
	}

	c.register(raidID, p.RoomID, s.ID)
	c.log.Info("Raid created", "raid_id", raidID, "target", p.TargetRef,
		"objectives", len(p.Objectives), "max_participants", p.MaxParticipants)
	return s, nil
}

// Recover rebuilds runtimes for raids found in warm session state after a
// restart, restarting monitors for active ones.
func (c *Coordinator) Recover(ctx context.Context) {
	for _, s := range c.sessions.Snapshot() {
		if s.Kind != models.KindRaid || s.Raid == nil || s.Raid.Status.Terminal() {
			continue
		}
		c.register(s.Raid.RaidID, s.RoomID, s.ID)
		if s.Raid.Status == models.RaidActive {
			metrics.ActiveRaids.Inc()
			c.startMonitor(s.Raid.RaidID)
			c.log.Info("Recovered active raid", "raid_id", s.Raid.RaidID)
		}
	}
}

// Start transitions a pending raid to active, stamping the clock window
// and launching its monitor.
func (c *Coordinator) StartRaid(ctx context.Context, raidID string) (*models.Session, error) {
	rt, err := c.lookup(raidID)
	if err != nil {
		return nil, err
	}
	s, err := c.sessions.MutateAny(ctx, rt.sessionID, func(s *models.Session) error {
		r := s.Raid
		if r.Status != models.RaidPending {
			return ErrNotActive
		}
		now := c.now().UTC()
		r.Status = models.RaidActive
		r.StartedAt = now
		r.EndsAt = now.Add(time.Duration(r.DurationMS) * time.Millisecond)
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.ActiveRaids.Inc()
	c.startMonitor(raidID)
	if c.notifier != nil {
		c.notifier.RaidStarted(ctx, raidID, s.Raid.TargetRef, s.Raid.EndsAt)
	}
	c.log.Info("Raid started", "raid_id", raidID, "ends_at", s.Raid.EndsAt)
	return s, nil
}

// Join adds a participant to an active raid. When the raid is pending and
// auto-start is enabled, the first join activates it.
func (c *Coordinator) Join(ctx context.Context, raidID string, p JoinParams) (*models.Participant, error) {
	if p.ParticipantID == "" || p.PlatformID == "" {
		return nil, ErrIdentityMissing
	}
	rt, err := c.lookup(raidID)
	if err != nil {
		return nil, err
	}

	var (
		joined    *models.Participant
		activated bool
		endsAt    time.Time
		targetRef string
		roster    int
		capacity  int
	)
	_, err = c.sessions.MutateAny(ctx, rt.sessionID, func(s *models.Session) error {
		r := s.Raid
		if r.Status == models.RaidPending && r.AutoStart {
			now := c.now().UTC()
			r.Status = models.RaidActive
			r.StartedAt = now
			r.EndsAt = now.Add(time.Duration(r.DurationMS) * time.Millisecond)
			activated = true
		}
		if r.Status != models.RaidActive {
			return ErrNotActive
		}
		if _, dup := r.Participants[p.ParticipantID]; dup {
			return ErrAlreadyJoined
		}
		if len(r.Participants) >= r.MaxParticipants {
			return ErrFull
		}
		joined = &models.Participant{
			ParticipantID: p.ParticipantID,
			PlatformID:    p.PlatformID,
			DisplayName:   p.DisplayName,
			SecondaryID:   p.SecondaryID,
			JoinedAt:      c.now().UTC(),
			Verified:      true,
		}
		r.Participants[p.ParticipantID] = joined
		endsAt, targetRef = r.EndsAt, r.TargetRef
		roster, capacity = len(r.Participants), r.MaxParticipants
		return nil
	})
	if err != nil {
		return nil, err
	}

	if activated {
		metrics.ActiveRaids.Inc()
		c.startMonitor(raidID)
		if c.notifier != nil {
			c.notifier.RaidStarted(ctx, raidID, targetRef, endsAt)
		}
		c.log.Info("Raid auto-started on first join", "raid_id", raidID, "ends_at", endsAt)
	}
	c.bus.PublishRaid(bus.EventRaidParticipantJoined, raidID, bus.RaidJoinedPayload{
		RaidID:        raidID,
		ParticipantID: joined.ParticipantID,
		DisplayName:   joined.DisplayName,
		Participants:  roster,
		MaxAllowed:    capacity,
	})
	cp := *joined
	return &cp, nil
}

// RecordAction appends an unverified action to the log and schedules its
// asynchronous verification. It returns immediately.
func (c *Coordinator) RecordAction(ctx context.Context, raidID string, p ActionParams) (*models.Action, error) {
	rt, err := c.lookup(raidID)
	if err != nil {
		return nil, err
	}

	action := &models.Action{
		ActionID:      uuid.New(),
		ParticipantID: p.ParticipantID,
		ObjectiveType: p.ObjectiveType,
		Target:        p.Target,
		SubmittedAt:   c.now().UTC(),
		Proof:         p.Proof,
	}

	_, err = c.sessions.MutateAny(ctx, rt.sessionID, func(s *models.Session) error {
		r := s.Raid
		if r.Status != models.RaidActive {
			return ErrNotActive
		}
		if _, ok := r.Participants[p.ParticipantID]; !ok {
			return ErrIdentityMissing
		}
		obj := r.Objective(p.ObjectiveType)
		if obj == nil {
			return ErrUnknownObjective
		}
		if action.Target == "" {
			action.Target = obj.Target
		}
		r.ActionLog = append(r.ActionLog, action)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := c.actions.Append(ctx, raidID, action); err != nil {
		// The in-memory log already holds the action; the row is audit
		// only, so a write failure is not surfaced to the submitter.
		c.log.Error("Persisting action row failed",
			"raid_id", raidID, "action_id", action.ActionID, "error", err)
	}

	c.scheduleVerify(rt, raidID, action.ActionID)
	cp := *action
	return &cp, nil
}

// VerifyAction runs the external verification for one action and, on a
// positive verdict, applies points and totals. Idempotent: a verified
// action is left untouched.
func (c *Coordinator) VerifyAction(ctx context.Context, raidID string, actionID uuid.UUID) error {
	rt, err := c.lookup(raidID)
	if err != nil {
		return err
	}

	snap, err := c.sessions.Get(ctx, rt.sessionID)
	if err != nil {
		return err
	}
	action := findAction(snap.Raid, actionID)
	if action == nil {
		return ErrActionNotFound
	}
	if action.Verified || action.Rejected {
		return nil
	}
	if snap.Raid.Status != models.RaidActive {
		return ErrNotActive
	}
	participant := snap.Raid.Participants[action.ParticipantID]
	if participant == nil {
		return ErrIdentityMissing
	}

	// The adapter call runs outside any raid lock. NotYet and transient
	// errors retry on the configured backoff schedule.
	verdict, err := c.callVerifier(ctx, snap.Raid, action, participant)
	if err != nil {
		if errors.Is(err, errNotYet) {
			// Still not observable after the retry schedule: the action
			// stays unverified and the monitor will try again later.
			metrics.VerifyResults.WithLabelValues("not_yet").Inc()
			return nil
		}
		metrics.VerifyResults.WithLabelValues("error").Inc()
		c.log.Warn("Verification failed",
			"raid_id", raidID, "action_id", actionID, "error", err)
		return err
	}

	switch verdict.Status {
	case VerdictVerified:
		metrics.VerifyResults.WithLabelValues("verified").Inc()
		return c.applyVerified(ctx, rt, raidID, actionID, verdict.PointsOverride)
	case VerdictRejected:
		metrics.VerifyResults.WithLabelValues("rejected").Inc()
		_, err := c.sessions.MutateAny(ctx, rt.sessionID, func(s *models.Session) error {
			if a := findAction(s.Raid, actionID); a != nil {
				a.Rejected = true
			}
			return nil
		})
		return err
	default: // NotYet after exhausting retries: leave unverified.
		metrics.VerifyResults.WithLabelValues("not_yet").Inc()
		return nil
	}
}

// callVerifier runs the adapter with per-attempt timeout and retries on
// NotYet and transient errors (1 s, then 4 s).
func (c *Coordinator) callVerifier(ctx context.Context, r *models.RaidState, a *models.Action, p *models.Participant) (Verdict, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.retryInterval
	bo.Multiplier = 4
	bo.RandomizationFactor = 0

	return backoff.Retry(ctx, func() (Verdict, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, c.cfg.VerifyTimeout)
		defer cancel()
		v, err := c.verifier.VerifyAction(attemptCtx, a.ObjectiveType, a.Target, p.PlatformID, a.SubmittedAt)
		if err != nil {
			if ctx.Err() != nil {
				return Verdict{}, backoff.Permanent(err)
			}
			return Verdict{}, err // transient: retry
		}
		if v.Status == VerdictNotYet {
			return v, errNotYet
		}
		return v, nil
	},
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(c.cfg.VerifyRetries)+1),
	)
}

// errNotYet drives the retry loop for VerdictNotYet without surfacing as a
// real failure.
var errNotYet = errors.New("verification not yet observable")

// applyVerified performs the mutation step of a positive verdict under the
// raid's session lock, then publishes progress and checks completion.
func (c *Coordinator) applyVerified(ctx context.Context, rt *runtime, raidID string, actionID uuid.UUID, override *int) error {
	var (
		progress bus.RaidProgressPayload
		complete bool
		applied  bool
		verified time.Time
		points   int
	)
	_, err := c.sessions.MutateAny(ctx, rt.sessionID, func(s *models.Session) error {
		r := s.Raid
		if r.Status != models.RaidActive {
			return ErrNotActive
		}
		a := findAction(r, actionID)
		if a == nil {
			return ErrActionNotFound
		}
		if a.Verified {
			return nil // idempotent
		}
		p := r.Participants[a.ParticipantID]
		if p == nil {
			return ErrIdentityMissing
		}
		obj := r.Objective(a.ObjectiveType)
		if obj == nil {
			return ErrUnknownObjective
		}

		points = obj.PointsPerAction
		if override != nil {
			points = *override
		}
		verified = c.now().UTC()
		a.Verified = true
		a.VerifiedAt = &verified
		a.Points = points

		p.ActionsCompleted++
		p.PointsEarned += points
		r.Counts[a.ObjectiveType]++
		r.Totals[a.ObjectiveType] += points

		c.assertTotals(r)

		applied = true
		complete = r.ObjectivesMet()
		progress = bus.RaidProgressPayload{
			RaidID:          raidID,
			ParticipantID:   a.ParticipantID,
			ObjectiveType:   a.ObjectiveType,
			PointsAwarded:   points,
			Totals:          cloneTotals(r.Totals),
			CompletionRatio: r.CompletionRatio(),
		}
		return nil
	})
	if err != nil || !applied {
		return err
	}

	if err := c.actions.MarkVerified(ctx, raidID, actionID, verified, points); err != nil {
		c.log.Error("Persisting verified action failed",
			"raid_id", raidID, "action_id", actionID, "error", err)
	}
	c.bus.PublishRaid(bus.EventRaidProgress, raidID, progress)

	if complete {
		return c.finish(ctx, raidID, models.RaidCompleted, "objectives met")
	}
	return nil
}

// Complete explicitly transitions an active raid to completed.
func (c *Coordinator) Complete(ctx context.Context, raidID, reason string) error {
	return c.finish(ctx, raidID, models.RaidCompleted, reason)
}

// Abort explicitly transitions an active raid to aborted.
func (c *Coordinator) Abort(ctx context.Context, raidID, reason string) error {
	return c.finish(ctx, raidID, models.RaidAborted, reason)
}

// Leaderboard ranks participants: points descending, then join time, then
// participant id. limit ≤ 0 returns the full roster.
func (c *Coordinator) Leaderboard(ctx context.Context, raidID string, limit int) ([]*models.Participant, error) {
	r, err := c.Get(ctx, raidID)
	if err != nil {
		return nil, err
	}
	ranked := make([]*models.Participant, 0, len(r.Participants))
	for _, p := range r.Participants {
		ranked = append(ranked, p)
	}
	sort.Slice(ranked, func(i, j int) bool {
		return models.LeaderboardLess(ranked[i], ranked[j])
	})
	if limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	return ranked, nil
}

// Metrics returns the raid's progress snapshot.
func (c *Coordinator) Metrics(ctx context.Context, raidID string) (Metrics, error) {
	r, err := c.Get(ctx, raidID)
	if err != nil {
		return Metrics{}, err
	}
	m := Metrics{
		RaidID:          raidID,
		Status:          r.Status,
		Totals:          cloneTotals(r.Totals),
		Counts:          cloneTotals(r.Counts),
		Participants:    len(r.Participants),
		CompletionRatio: r.CompletionRatio(),
	}
	if r.Status == models.RaidActive {
		if remaining := r.EndsAt.Sub(c.now()); remaining > 0 {
			m.TimeRemaining = remaining
		}
	}
	return m, nil
}

// Get returns a snapshot of the raid state. Ended raids stay readable for
// the session retention window; once the sweep deletes the owning session
// the runtime entry is dropped here.
func (c *Coordinator) Get(ctx context.Context, raidID string) (*models.RaidState, error) {
	rt, err := c.lookup(raidID)
	if err != nil {
		return nil, err
	}
	s, err := c.sessions.Get(ctx, rt.sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			c.mu.Lock()
			delete(c.runtimes, raidID)
			c.mu.Unlock()
			return nil, ErrNotFound
		}
		return nil, err
	}
	if s.Raid == nil {
		return nil, ErrNotFound
	}
	return s.Raid, nil
}

// SessionID resolves a raid id to its owning session.
func (c *Coordinator) SessionID(raidID string) (uuid.UUID, error) {
	rt, err := c.lookup(raidID)
	if err != nil {
		return uuid.Nil, err
	}
	return rt.sessionID, nil
}

// finish performs a terminal transition exactly once, stops the monitor,
// and ends the owning session.
func (c *Coordinator) finish(ctx context.Context, raidID string, status models.RaidStatus, reason string) error {
	rt, err := c.lookup(raidID)
	if err != nil {
		return err
	}

	var ended bus.RaidEndedPayload
	_, err = c.sessions.MutateAny(ctx, rt.sessionID, func(s *models.Session) error {
		r := s.Raid
		if r.Status.Terminal() {
			return ErrNotActive
		}
		r.Status = status
		ended = bus.RaidEndedPayload{
			RaidID: raidID,
			Status: status,
			Reason: reason,
			Totals: cloneTotals(r.Totals),
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.ActiveRaids.Dec()
	c.bus.PublishRaid(bus.EventRaidEnded, raidID, ended)
	if c.notifier != nil {
		top, _ := c.topAfterFinish(ctx, rt.sessionID)
		c.notifier.RaidEnded(ctx, raidID, status, top)
	}

	// The owning session follows the raid into a terminal state. The
	// sweep may have expired it already; that is fine.
	sessState := models.SessionCompleted
	if status == models.RaidAborted {
		sessState = models.SessionFailed
	}
	if err := c.sessions.End(ctx, rt.sessionID, sessState, "raid "+string(status)); err != nil &&
		!errors.Is(err, session.ErrNotActive) {
		c.log.Warn("Ending raid session failed", "raid_id", raidID, "error", err)
	}

	// Canceled last: the terminal transition above already rode on this
	// context when finish was reached from a verification goroutine.
	rt.cancel()

	c.log.Info("Raid ended", "raid_id", raidID, "status", status, "reason", reason)
	return nil
}

// topAfterFinish ranks the final roster for the ops notification.
func (c *Coordinator) topAfterFinish(ctx context.Context, sessionID uuid.UUID) ([]*models.Participant, error) {
	s, err := c.sessions.Get(ctx, sessionID)
	if err != nil || s.Raid == nil {
		return nil, err
	}
	ranked := make([]*models.Participant, 0, len(s.Raid.Participants))
	for _, p := range s.Raid.Participants {
		ranked = append(ranked, p)
	}
	sort.Slice(ranked, func(i, j int) bool {
		return models.LeaderboardLess(ranked[i], ranked[j])
	})
	if len(ranked) > 3 {
		ranked = ranked[:3]
	}
	return ranked, nil
}

// assertTotals verifies the totals-conservation invariant against the
// action log. Drift means corrupted state: the process aborts so the
// supervisor restarts it from persisted truth.
func (c *Coordinator) assertTotals(r *models.RaidState) {
	want := make(map[models.ObjectiveType]int)
	for _, a := range r.ActionLog {
		if a.Verified {
			want[a.ObjectiveType] += a.Points
		}
	}
	for t, n := range want {
		if r.Totals[t] != n {
			metrics.StateCorruption.Inc()
			c.fatal("Raid totals drifted from action log",
				"raid_id", r.RaidID, "objective_type", t,
				"totals", r.Totals[t], "log_sum", n)
			return
		}
	}
	for t, n := range r.Totals {
		if n != 0 && want[t] != n {
			metrics.StateCorruption.Inc()
			c.fatal("Raid totals drifted from action log",
				"raid_id", r.RaidID, "objective_type", t,
				"totals", n, "log_sum", want[t])
			return
		}
	}
}

func (c *Coordinator) register(raidID, roomID string, sessionID uuid.UUID) {
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.mu.Lock()
	c.runtimes[raidID] = &runtime{
		sessionID: sessionID,
		ctx:       ctx,
		cancel:    cancel,
		sem:       make(chan struct{}, c.cfg.VerifyConcurrency),
		inflight:  make(map[uuid.UUID]struct{}),
	}
	if roomID != "" {
		c.rooms[roomID] = raidID
	}
	c.mu.Unlock()
}

// ForRoom resolves the raid most recently created in a room. Chat commands
// address "the raid here" rather than a raid id.
func (c *Coordinator) ForRoom(roomID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raidID, ok := c.rooms[roomID]
	if !ok {
		return "", ErrNotFound
	}
	return raidID, nil
}

func (c *Coordinator) lookup(raidID string) (*runtime, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rt, ok := c.runtimes[raidID]
	if !ok {
		return nil, ErrNotFound
	}
	return rt, nil
}

func findAction(r *models.RaidState, actionID uuid.UUID) *models.Action {
	for _, a := range r.ActionLog {
		if a.ActionID == actionID {
			return a
		}
	}
	return nil
}

func cloneTotals(in map[models.ObjectiveType]int) map[models.ObjectiveType]int {
	out := make(map[models.ObjectiveType]int, len(in))
	for t, n := range in {
		out[t] = n
	}
	return out
}
