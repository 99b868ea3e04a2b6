package raid

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rallyhouse/rally/pkg/bus"
	"github.com/rallyhouse/rally/pkg/config"
	"github.com/rallyhouse/rally/pkg/models"
	"github.com/rallyhouse/rally/pkg/session"
)

// memStore is an in-memory session.Store for coordinator tests.
type memStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.Session
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[uuid.UUID]*models.Session)}
}

func (st *memStore) Insert(_ context.Context, s *models.Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.rows[s.ID] = s.Clone()
	return nil
}

func (st *memStore) Update(_ context.Context, s *models.Session) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	if _, ok := st.rows[s.ID]; !ok {
		return session.ErrNotFound
	}
	st.rows[s.ID] = s.Clone()
	return nil
}

func (st *memStore) Get(_ context.Context, id uuid.UUID) (*models.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.rows[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return s.Clone(), nil
}

func (st *memStore) FindActiveByRoom(_ context.Context, agentID, roomID string) (*models.Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	for _, s := range st.rows {
		if s.AgentID == agentID && s.RoomID == roomID && s.State == models.SessionActive {
			return s.Clone(), nil
		}
	}
	return nil, session.ErrNotFound
}

func (st *memStore) Delete(_ context.Context, id uuid.UUID) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.rows, id)
	return nil
}

func (st *memStore) ListActive(_ context.Context) ([]*models.Session, error) {
	return nil, nil
}

// memActions is an in-memory ActionStore recording persistence calls.
type memActions struct {
	mu       sync.Mutex
	appended []uuid.UUID
	verified map[uuid.UUID]int
}

func newMemActions() *memActions {
	return &memActions{verified: make(map[uuid.UUID]int)}
}

func (st *memActions) Append(_ context.Context, _ string, a *models.Action) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.appended = append(st.appended, a.ActionID)
	return nil
}

func (st *memActions) MarkVerified(_ context.Context, _ string, actionID uuid.UUID, _ time.Time, points int) error {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.verified[actionID] = points
	return nil
}

func (st *memActions) ListByRaid(_ context.Context, _ string) ([]*models.Action, error) {
	return nil, nil
}

func (st *memActions) verifiedPoints(id uuid.UUID) (int, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	p, ok := st.verified[id]
	return p, ok
}

// countingVerifier wraps a fixed verdict and counts calls.
type countingVerifier struct {
	calls   atomic.Int64
	verdict Verdict
	err     error
}

func (v *countingVerifier) VerifyAction(_ context.Context, _ models.ObjectiveType, _, _ string, _ time.Time) (Verdict, error) {
	v.calls.Add(1)
	return v.verdict, v.err
}

type harness struct {
	coord    *Coordinator
	sessions *session.Manager
	actions  *memActions
	bus      *bus.Bus
}

func newHarness(t *testing.T, verifier Verifier, mut func(*config.RaidConfig)) *harness {
	t.Helper()
	cfg := config.RaidConfig{
		// A long poll interval keeps the monitor quiet so tests drive
		// verification deterministically through RecordAction.
		PollInterval:           time.Hour,
		VerifyLatencyMin:       0,
		VerifyTimeout:          500 * time.Millisecond,
		VerifyRetries:          2,
		VerifyConcurrency:      4,
		AutoStart:              true,
		DefaultMaxParticipants: 25,
		DefaultDuration:        time.Hour,
	}
	if mut != nil {
		mut(&cfg)
	}

	b := bus.New(64, 200*time.Millisecond)
	mgr := session.NewManager(config.SessionConfig{
		DefaultTimeout: time.Minute,
		SweepInterval:  time.Minute,
		Retention:      24 * time.Hour,
	}, newMemStore(), b)

	actions := newMemActions()
	c := NewCoordinator(cfg, mgr, actions, verifier, b, nil)
	c.retryInterval = time.Millisecond
	c.fatal = func(msg string, args ...any) {
		t.Fatalf("unexpected fatal: %s %v", msg, args)
	}
	t.Cleanup(c.Stop)
	return &harness{coord: c, sessions: mgr, actions: actions, bus: b}
}

func createParams() CreateParams {
	return CreateParams{
		AgentID:   "agent-1",
		RoomID:    "room-1",
		TargetRef: "https://x.com/rally/status/42",
		Objectives: []models.Objective{
			{Type: models.ObjectiveLike, RequiredCount: 3, PointsPerAction: 1},
			{Type: models.ObjectiveRepost, RequiredCount: 2, PointsPerAction: 3},
		},
	}
}

func joiner(n string) JoinParams {
	return JoinParams{ParticipantID: "p-" + n, PlatformID: "tg-" + n, DisplayName: "Raider " + n}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t, &countingVerifier{}, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		mut  func(*CreateParams)
	}{
		{"missing target", func(p *CreateParams) { p.TargetRef = "" }},
		{"no objectives", func(p *CreateParams) { p.Objectives = nil }},
		{"unknown objective type", func(p *CreateParams) {
			p.Objectives[0].Type = "boost"
		}},
		{"duplicate objective type", func(p *CreateParams) {
			p.Objectives[1].Type = p.Objectives[0].Type
		}},
		{"non-positive required count", func(p *CreateParams) {
			p.Objectives[0].RequiredCount = 0
		}},
		{"negative points", func(p *CreateParams) {
			p.Objectives[0].PointsPerAction = -1
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := createParams()
			tt.mut(&p)
			_, err := h.coord.Create(ctx, p)
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}

func TestCreateAppliesDefaults(t *testing.T) {
	h := newHarness(t, &countingVerifier{}, nil)

	s, err := h.coord.Create(context.Background(), createParams())
	require.NoError(t, err)
	require.NotNil(t, s.Raid)

	r := s.Raid
	assert.Equal(t, models.RaidPending, r.Status)
	assert.Contains(t, r.RaidID, "raid-")
	assert.Equal(t, 25, r.MaxParticipants)
	assert.Equal(t, time.Hour.Milliseconds(), r.DurationMS)
	assert.True(t, r.AutoStart)
	assert.Equal(t, models.KindRaid, s.Kind)
}

func TestJoinAutoStartsPendingRaid(t *testing.T) {
	h := newHarness(t, &countingVerifier{}, nil)
	ctx := context.Background()

	s, err := h.coord.Create(ctx, createParams())
	require.NoError(t, err)
	raidID := s.Raid.RaidID

	p, err := h.coord.Join(ctx, raidID, joiner("1"))
	require.NoError(t, err)
	assert.Equal(t, "p-1", p.ParticipantID)

	r, err := h.coord.Get(ctx, raidID)
	require.NoError(t, err)
	assert.Equal(t, models.RaidActive, r.Status)
	assert.False(t, r.StartedAt.IsZero())
	assert.Equal(t, r.StartedAt.Add(time.Hour), r.EndsAt)
	assert.Len(t, r.Participants, 1)
}

func TestJoinPendingWithoutAutoStart(t *testing.T) {
	h := newHarness(t, &countingVerifier{}, func(cfg *config.RaidConfig) {
		cfg.AutoStart = false
	})
	ctx := context.Background()

	s, err := h.coord.Create(ctx, createParams())
	require.NoError(t, err)
	raidID := s.Raid.RaidID

	_, err = h.coord.Join(ctx, raidID, joiner("1"))
	assert.ErrorIs(t, err, ErrNotActive)

	_, err = h.coord.StartRaid(ctx, raidID)
	require.NoError(t, err)

	_, err = h.coord.Join(ctx, raidID, joiner("1"))
	assert.NoError(t, err)
}

func TestJoinDuplicateAndCapacity(t *testing.T) {
	h := newHarness(t, &countingVerifier{}, nil)
	ctx := context.Background()

	p := createParams()
	p.MaxParticipants = 2
	s, err := h.coord.Create(ctx, p)
	require.NoError(t, err)
	raidID := s.Raid.RaidID

	_, err = h.coord.Join(ctx, raidID, joiner("1"))
	require.NoError(t, err)
	_, err = h.coord.Join(ctx, raidID, joiner("1"))
	assert.ErrorIs(t, err, ErrAlreadyJoined)

	_, err = h.coord.Join(ctx, raidID, joiner("2"))
	require.NoError(t, err)
	_, err = h.coord.Join(ctx, raidID, joiner("3"))
	assert.ErrorIs(t, err, ErrFull)

	_, err = h.coord.Join(ctx, raidID, JoinParams{ParticipantID: "p-4"})
	assert.ErrorIs(t, err, ErrIdentityMissing)
}

func TestRecordActionValidation(t *testing.T) {
	h := newHarness(t, &countingVerifier{verdict: Verdict{Status: VerdictVerified}}, nil)
	ctx := context.Background()

	s, err := h.coord.Create(ctx, createParams())
	require.NoError(t, err)
	raidID := s.Raid.RaidID
	_, err = h.coord.Join(ctx, raidID, joiner("1"))
	require.NoError(t, err)

	_, err = h.coord.RecordAction(ctx, raidID, ActionParams{
		ParticipantID: "p-stranger",
		ObjectiveType: models.ObjectiveLike,
	})
	assert.ErrorIs(t, err, ErrIdentityMissing)

	_, err = h.coord.RecordAction(ctx, raidID, ActionParams{
		ParticipantID: "p-1",
		ObjectiveType: models.ObjectiveFollow,
	})
	assert.ErrorIs(t, err, ErrUnknownObjective)

	_, err = h.coord.RecordAction(ctx, "raid-nope", ActionParams{
		ParticipantID: "p-1",
		ObjectiveType: models.ObjectiveLike,
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestVerifiedActionAppliesPoints(t *testing.T) {
	h := newHarness(t, &countingVerifier{verdict: Verdict{Status: VerdictVerified}}, nil)
	ctx := context.Background()

	s, err := h.coord.Create(ctx, createParams())
	require.NoError(t, err)
	raidID := s.Raid.RaidID
	_, err = h.coord.Join(ctx, raidID, joiner("1"))
	require.NoError(t, err)

	a, err := h.coord.RecordAction(ctx, raidID, ActionParams{
		ParticipantID: "p-1",
		ObjectiveType: models.ObjectiveRepost,
	})
	require.NoError(t, err)
	assert.False(t, a.Verified)

	waitFor(t, func() bool {
		r, err := h.coord.Get(ctx, raidID)
		return err == nil && r.Counts[models.ObjectiveRepost] == 1
	})

	r, err := h.coord.Get(ctx, raidID)
	require.NoError(t, err)
	assert.Equal(t, 3, r.Totals[models.ObjectiveRepost])
	assert.Equal(t, 1, r.Participants["p-1"].ActionsCompleted)
	assert.Equal(t, 3, r.Participants["p-1"].PointsEarned)
	require.Len(t, r.ActionLog, 1)
	assert.True(t, r.ActionLog[0].Verified)
	assert.NotNil(t, r.ActionLog[0].VerifiedAt)
	assert.Equal(t, 3, r.ActionLog[0].Points)

	waitFor(t, func() bool {
		_, ok := h.actions.verifiedPoints(a.ActionID)
		return ok
	})
	pts, _ := h.actions.verifiedPoints(a.ActionID)
	assert.Equal(t, 3, pts)
}

func TestPointsOverrideWins(t *testing.T) {
	override := 7
	h := newHarness(t, &countingVerifier{
		verdict: Verdict{Status: VerdictVerified, PointsOverride: &override},
	}, nil)
	ctx := context.Background()

	s, err := h.coord.Create(ctx, createParams())
	require.NoError(t, err)
	raidID := s.Raid.RaidID
	_, err = h.coord.Join(ctx, raidID, joiner("1"))
	require.NoError(t, err)

	_, err = h.coord.RecordAction(ctx, raidID, ActionParams{
		ParticipantID: "p-1",
		ObjectiveType: models.ObjectiveLike,
	})
	require.NoError(t, err)

	waitFor(t, func() bool {
		r, err := h.coord.Get(ctx, raidID)
		return err == nil && r.Counts[models.ObjectiveLike] == 1
	})
	r, err := h.coord.Get(ctx, raidID)
	require.NoError(t, err)
	assert.Equal(t, 7, r.Totals[models.ObjectiveLike])
	assert.Equal(t, 7, r.Participants["p-1"].PointsEarned)
}

func TestVerifyIdempotent(t *testing.T) {
	v := &countingVerifier{verdict: Verdict{Status: VerdictVerified}}
	h := newHarness(t, v, nil)
	ctx := context.Background()

	s, err := h.coord.Create(ctx, createParams())
	require.NoError(t, err)
	raidID := s.Raid.RaidID
	_, err = h.coord.Join(ctx, raidID, joiner("1"))
	require.NoError(t, err)

	a, err := h.coord.RecordAction(ctx, raidID, ActionParams{
		ParticipantID: "p-1",
		ObjectiveType: models.ObjectiveLike,
	})
	require.NoError(t, err)

	waitFor(t, func() bool {
		r, err := h.coord.Get(ctx, raidID)
		return err == nil && r.Counts[models.ObjectiveLike] == 1
	})
	callsAfterFirst := v.calls.Load()

	// Re-verifying a settled action neither calls the adapter nor moves
	// points.
	require.NoError(t, h.coord.VerifyAction(ctx, raidID, a.ActionID))
	r, err := h.coord.Get(ctx, raidID)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Counts[models.ObjectiveLike])
	assert.Equal(t, 1, r.Participants["p-1"].PointsEarned)
	assert.Equal(t, callsAfterFirst, v.calls.Load())
}

func TestNotYetLeavesActionUnverified(t *testing.T) {
	v := &countingVerifier{verdict: Verdict{Status: VerdictNotYet}}
	h := newHarness(t, v, nil)
	ctx := context.Background()

	s, err := h.coord.Create(ctx, createParams())
	require.NoError(t, err)
	raidID := s.Raid.RaidID
	_, err = h.coord.Join(ctx, raidID, joiner("1"))
	require.NoError(t, err)

	_, err = h.coord.RecordAction(ctx, raidID, ActionParams{
		ParticipantID: "p-1",
		ObjectiveType: models.ObjectiveLike,
	})
	require.NoError(t, err)

	// Initial attempt plus two retries, then the action rests unverified
	// until the monitor picks it up again.
	waitFor(t, func() bool { return v.calls.Load() == 3 })
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(3), v.calls.Load())

	r, err := h.coord.Get(ctx, raidID)
	require.NoError(t, err)
	require.Len(t, r.ActionLog, 1)
	assert.False(t, r.ActionLog[0].Verified)
	assert.False(t, r.ActionLog[0].Rejected)
	assert.Zero(t, r.Totals[models.ObjectiveLike])
}

func TestRejectedIsTerminalForAction(t *testing.T) {
	v := &countingVerifier{verdict: Verdict{Status: VerdictRejected}}
	h := newHarness(t, v, nil)
	ctx := context.Background()

	s, err := h.coord.Create(ctx, createParams())
	require.NoError(t, err)
	raidID := s.Raid.RaidID
	_, err = h.coord.Join(ctx, raidID, joiner("1"))
	require.NoError(t, err)

	a, err := h.coord.RecordAction(ctx, raidID, ActionParams{
		ParticipantID: "p-1",
		ObjectiveType: models.ObjectiveLike,
	})
	require.NoError(t, err)

	waitFor(t, func() bool {
		r, err := h.coord.Get(ctx, raidID)
		return err == nil && len(r.ActionLog) == 1 && r.ActionLog[0].Rejected
	})
	calls := v.calls.Load()

	require.NoError(t, h.coord.VerifyAction(ctx, raidID, a.ActionID))
	assert.Equal(t, calls, v.calls.Load())

	r, err := h.coord.Get(ctx, raidID)
	require.NoError(t, err)
	assert.Zero(t, r.Participants["p-1"].PointsEarned)
	assert.Zero(t, r.Counts[models.ObjectiveLike])
}

func TestRaidCompletesWhenObjectivesMet(t *testing.T) {
	h := newHarness(t, &countingVerifier{verdict: Verdict{Status: VerdictVerified}}, nil)
	ctx := context.Background()

	p := createParams()
	p.Objectives = []models.Objective{
		{Type: models.ObjectiveLike, RequiredCount: 1, PointsPerAction: 1},
	}
	s, err := h.coord.Create(ctx, p)
	require.NoError(t, err)
	raidID := s.Raid.RaidID

	events := make(chan bus.Event, 16)
	_, err = h.bus.Subscribe("conn-t", bus.RaidTopic(raidID), nil,
		bus.SinkFunc(func(_ context.Context, ev bus.Event) error {
			events <- ev
			return nil
		}))
	require.NoError(t, err)

	_, err = h.coord.Join(ctx, raidID, joiner("1"))
	require.NoError(t, err)
	_, err = h.coord.RecordAction(ctx, raidID, ActionParams{
		ParticipantID: "p-1",
		ObjectiveType: models.ObjectiveLike,
	})
	require.NoError(t, err)

	waitFor(t, func() bool {
		r, err := h.coord.Get(ctx, raidID)
		return err == nil && r.Status == models.RaidCompleted
	})

	// The owning session follows into its terminal state.
	sess, err := h.sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, sess.State)

	// Further mutation bounces off the terminal raid.
	_, err = h.coord.Join(ctx, raidID, joiner("2"))
	assert.ErrorIs(t, err, ErrNotActive)
	err = h.coord.Complete(ctx, raidID, "again")
	assert.ErrorIs(t, err, ErrNotActive)

	seen := map[string]bool{}
	deadline := time.After(2 * time.Second)
	for !(seen[bus.EventRaidParticipantJoined] && seen[bus.EventRaidProgress] && seen[bus.EventRaidEnded]) {
		select {
		case ev := <-events:
			seen[ev.Event] = true
		case <-deadline:
			t.Fatalf("missing raid events, saw %v", seen)
		}
	}
}

func TestMonitorTimesOutRaid(t *testing.T) {
	h := newHarness(t, &countingVerifier{}, nil)
	ctx := context.Background()

	s, err := h.coord.Create(ctx, createParams())
	require.NoError(t, err)
	raidID := s.Raid.RaidID
	_, err = h.coord.Join(ctx, raidID, joiner("1"))
	require.NoError(t, err)

	r, err := h.coord.Get(ctx, raidID)
	require.NoError(t, err)
	h.coord.now = func() time.Time { return r.EndsAt }

	rt, err := h.coord.lookup(raidID)
	require.NoError(t, err)
	assert.True(t, h.coord.tick(rt, raidID))

	r, err = h.coord.Get(ctx, raidID)
	require.NoError(t, err)
	assert.Equal(t, models.RaidTimedOut, r.Status)
}

func TestAbortFreezesRaid(t *testing.T) {
	h := newHarness(t, &countingVerifier{}, nil)
	ctx := context.Background()

	s, err := h.coord.Create(ctx, createParams())
	require.NoError(t, err)
	raidID := s.Raid.RaidID
	_, err = h.coord.Join(ctx, raidID, joiner("1"))
	require.NoError(t, err)

	require.NoError(t, h.coord.Abort(ctx, raidID, "mods said so"))

	r, err := h.coord.Get(ctx, raidID)
	require.NoError(t, err)
	assert.Equal(t, models.RaidAborted, r.Status)

	sess, err := h.sessions.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, sess.State)
}

func TestLeaderboardOrdering(t *testing.T) {
	h := newHarness(t, &countingVerifier{}, nil)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	clock := base
	h.coord.now = func() time.Time { return clock }

	s, err := h.coord.Create(ctx, createParams())
	require.NoError(t, err)
	raidID := s.Raid.RaidID

	for _, n := range []string{"1", "2", "3"} {
		_, err = h.coord.Join(ctx, raidID, joiner(n))
		require.NoError(t, err)
		clock = clock.Add(time.Second)
	}

	// p-2 leads on points; p-1 and p-3 tie on points and rank by join
	// order.
	_, err = h.sessions.MutateAny(ctx, s.ID, func(sess *models.Session) error {
		sess.Raid.Participants["p-2"].PointsEarned = 10
		sess.Raid.Participants["p-1"].PointsEarned = 4
		sess.Raid.Participants["p-3"].PointsEarned = 4
		return nil
	})
	require.NoError(t, err)

	board, err := h.coord.Leaderboard(ctx, raidID, 0)
	require.NoError(t, err)
	require.Len(t, board, 3)
	assert.Equal(t, "p-2", board[0].ParticipantID)
	assert.Equal(t, "p-1", board[1].ParticipantID)
	assert.Equal(t, "p-3", board[2].ParticipantID)

	top, err := h.coord.Leaderboard(ctx, raidID, 2)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}

func TestMetricsSnapshot(t *testing.T) {
	h := newHarness(t, &countingVerifier{verdict: Verdict{Status: VerdictVerified}}, nil)
	ctx := context.Background()

	s, err := h.coord.Create(ctx, createParams())
	require.NoError(t, err)
	raidID := s.Raid.RaidID
	_, err = h.coord.Join(ctx, raidID, joiner("1"))
	require.NoError(t, err)

	_, err = h.coord.RecordAction(ctx, raidID, ActionParams{
		ParticipantID: "p-1",
		ObjectiveType: models.ObjectiveLike,
	})
	require.NoError(t, err)
	waitFor(t, func() bool {
		m, err := h.coord.Metrics(ctx, raidID)
		return err == nil && m.Counts[models.ObjectiveLike] == 1
	})

	m, err := h.coord.Metrics(ctx, raidID)
	require.NoError(t, err)
	assert.Equal(t, models.RaidActive, m.Status)
	assert.Equal(t, 1, m.Participants)
	assert.Equal(t, 1, m.Totals[models.ObjectiveLike])
	assert.Greater(t, m.TimeRemaining, time.Duration(0))
	// like 1/3 and repost 0/2 average to one sixth.
	assert.InDelta(t, 1.0/6.0, m.CompletionRatio, 1e-9)
}

func TestTotalsDriftAborts(t *testing.T) {
	h := newHarness(t, &countingVerifier{verdict: Verdict{Status: VerdictVerified}}, nil)
	ctx := context.Background()

	var fatals atomic.Int64
	h.coord.fatal = func(string, ...any) { fatals.Add(1) }

	s, err := h.coord.Create(ctx, createParams())
	require.NoError(t, err)
	raidID := s.Raid.RaidID
	_, err = h.coord.Join(ctx, raidID, joiner("1"))
	require.NoError(t, err)

	// Corrupt the running totals behind the coordinator's back.
	_, err = h.sessions.MutateAny(ctx, s.ID, func(sess *models.Session) error {
		sess.Raid.Totals[models.ObjectiveLike] = 99
		return nil
	})
	require.NoError(t, err)

	_, err = h.coord.RecordAction(ctx, raidID, ActionParams{
		ParticipantID: "p-1",
		ObjectiveType: models.ObjectiveLike,
	})
	require.NoError(t, err)

	waitFor(t, func() bool { return fatals.Load() > 0 })
}

func TestRecoverRebuildsRuntimes(t *testing.T) {
	h := newHarness(t, &countingVerifier{}, nil)
	ctx := context.Background()

	s, err := h.coord.Create(ctx, createParams())
	require.NoError(t, err)
	raidID := s.Raid.RaidID
	_, err = h.coord.Join(ctx, raidID, joiner("1"))
	require.NoError(t, err)

	// A fresh coordinator over the same session manager stands in for a
	// restarted process with warm state.
	c2 := NewCoordinator(h.coord.cfg, h.sessions, h.actions, &countingVerifier{}, h.bus, nil)
	c2.retryInterval = time.Millisecond
	t.Cleanup(c2.Stop)
	c2.Recover(ctx)

	r, err := c2.Get(ctx, raidID)
	require.NoError(t, err)
	assert.Equal(t, models.RaidActive, r.Status)

	id, err := c2.ForRoom("room-1")
	require.NoError(t, err)
	assert.Equal(t, raidID, id)
}
