package ingress

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rallyhouse/rally/pkg/bus"
	"github.com/rallyhouse/rally/pkg/config"
	"github.com/rallyhouse/rally/pkg/engine"
	"github.com/rallyhouse/rally/pkg/ingress/adapter"
	"github.com/rallyhouse/rally/pkg/models"
	"github.com/rallyhouse/rally/pkg/prompt"
	"github.com/rallyhouse/rally/pkg/raid"
	"github.com/rallyhouse/rally/pkg/rallyerr"
	"github.com/rallyhouse/rally/pkg/session"
)

// fakeAdapter parses a JSON-encoded InboundMessage straight out of the body.
type fakeAdapter struct {
	verifyErr error

	mu      sync.Mutex
	replies []string
}

func (f *fakeAdapter) Platform() string { return "test" }

func (f *fakeAdapter) Verify(_ *http.Request, _ []byte) error { return f.verifyErr }

func (f *fakeAdapter) Parse(body []byte, _ http.Header) (models.InboundMessage, error) {
	var msg models.InboundMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return models.InboundMessage{}, adapter.ErrMalformedPayload
	}
	return msg, nil
}

func (f *fakeAdapter) Reply(_ context.Context, _, text string, _ []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, text)
	return nil
}

type fakeDispatch struct {
	mu   sync.Mutex
	jobs []engine.Job
	err  error
}

func (f *fakeDispatch) Enqueue(job engine.Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.jobs = append(f.jobs, job)
	return nil
}

type fakeCommander struct {
	mu    sync.Mutex
	cmds  []raid.Command
	reply string
}

func (f *fakeCommander) Execute(_ context.Context, _, _ string, _ raid.JoinParams, cmd raid.Command) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cmds = append(f.cmds, cmd)
	return f.reply, nil
}

// memStore is a minimal in-memory session.Store.
type memStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]*models.Session
}

func newMemStore() *memStore { return &memStore{rows: make(map[uuid.UUID]*models.Session)} }

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

func (st *memStore) ListActive(_ context.Context) ([]*models.Session, error) { return nil, nil }

type pipeHarness struct {
	p        *Pipeline
	ad       *fakeAdapter
	dispatch *fakeDispatch
	raids    *fakeCommander
}

func newPipeHarness(t *testing.T, mut func(*config.IngressConfig)) *pipeHarness {
	t.Helper()
	cfg := config.IngressConfig{
		RateLimitPerMin:     100,
		RateViolationLimit:  5,
		RateViolationWindow: time.Hour,
		DedupTTL:            time.Minute,
		DedupSize:           1024,
	}
	if mut != nil {
		mut(&cfg)
	}
	b := bus.New(64, 200*time.Millisecond)
	t.Cleanup(func() { b.Shutdown(context.Background()) })
	sessions := session.NewManager(config.SessionConfig{
		DefaultTimeout: time.Minute,
		SweepInterval:  time.Hour,
		Retention:      time.Hour,
	}, newMemStore(), b)

	h := &pipeHarness{
		ad:       &fakeAdapter{},
		dispatch: &fakeDispatch{},
		raids:    &fakeCommander{reply: "ok"},
	}
	h.p = New(cfg, config.RedisConfig{}, "rally", adapter.NewRegistry(h.ad),
		sessions, h.raids, nil, nil, mustLibrary(t), h.dispatch)
	return h
}

func mustLibrary(t *testing.T) *prompt.Library {
	t.Helper()
	lib, err := prompt.LoadLibrary(config.PromptConfig{})
	require.NoError(t, err)
	return lib
}

func deliver(t *testing.T, h *pipeHarness, sourceIP string, msg models.InboundMessage) (Result, error) {
	t.Helper()
	body, err := json.Marshal(msg)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/test", nil)
	return h.p.Process(context.Background(), "test", sourceIP, req, body)
}

func chatMsg(id string) models.InboundMessage {
	return models.InboundMessage{
		SourceUserKey: "user-1",
		RoomKey:       "room-1",
		Text:          "hello there",
		RawRef:        id,
	}
}

func TestProcessAcceptsAndDispatches(t *testing.T) {
	h := newPipeHarness(t, nil)

	res, err := deliver(t, h, "1.2.3.4", chatMsg("m1"))
	require.NoError(t, err)
	assert.Equal(t, "accepted", res.Outcome)
	assert.Equal(t, models.CategoryCommunityChat, res.Category)
	assert.Empty(t, res.Reply)

	require.Len(t, h.dispatch.jobs, 1)
	job := h.dispatch.jobs[0]
	assert.Equal(t, "rally", job.AgentID)
	assert.Equal(t, "room-1", job.RoomID)
	assert.Equal(t, "hello there", job.Request.UserInput)
	assert.NotEqual(t, uuid.Nil, job.SessionID)
}

func TestProcessUnknownPlatform(t *testing.T) {
	h := newPipeHarness(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/nope", nil)
	_, err := h.p.Process(context.Background(), "nope", "1.2.3.4", req, nil)
	var re *rallyerr.E
	require.ErrorAs(t, err, &re)
	assert.Equal(t, rallyerr.CodeInvalidRequest, re.Code)
}

func TestProcessRejections(t *testing.T) {
	tests := []struct {
		name    string
		mut     func(*config.IngressConfig)
		prep    func(*pipeHarness)
		ip      string
		msg     models.InboundMessage
		outcome string
		code    rallyerr.Code
	}{
		{
			name:    "static blocklisted ip",
			mut:     func(c *config.IngressConfig) { c.Blocklist = []string{"9.9.9.9"} },
			ip:      "9.9.9.9",
			msg:     chatMsg("m1"),
			outcome: "blocked",
			code:    rallyerr.CodeBlockedSource,
		},
		{
			name:    "static blocklisted user",
			mut:     func(c *config.IngressConfig) { c.Blocklist = []string{"user-1"} },
			ip:      "1.2.3.4",
			msg:     chatMsg("m1"),
			outcome: "blocked",
			code:    rallyerr.CodeBlockedSource,
		},
		{
			name:    "bad signature",
			prep:    func(h *pipeHarness) { h.ad.verifyErr = adapter.ErrInvalidSignature },
			ip:      "1.2.3.4",
			msg:     chatMsg("m1"),
			outcome: "invalid_signature",
			code:    rallyerr.CodeInvalidSignature,
		},
		{
			name:    "missing sender",
			ip:      "1.2.3.4",
			msg:     models.InboundMessage{RoomKey: "room-1", Text: "hi", RawRef: "m1"},
			outcome: "invalid",
			code:    rallyerr.CodeInvalidRequest,
		},
		{
			name:    "empty message",
			ip:      "1.2.3.4",
			msg:     models.InboundMessage{SourceUserKey: "u", RoomKey: "r", Text: "   ", RawRef: "m1"},
			outcome: "invalid",
			code:    rallyerr.CodeInvalidRequest,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newPipeHarness(t, tt.mut)
			if tt.prep != nil {
				tt.prep(h)
			}
			res, err := deliver(t, h, tt.ip, tt.msg)
			assert.Equal(t, tt.outcome, res.Outcome)
			var re *rallyerr.E
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.code, re.Code)
			assert.Empty(t, h.dispatch.jobs)
		})
	}
}

func TestProcessDuplicateRejected(t *testing.T) {
	h := newPipeHarness(t, nil)

	_, err := deliver(t, h, "1.2.3.4", chatMsg("same-id"))
	require.NoError(t, err)

	res, err := deliver(t, h, "1.2.3.4", chatMsg("same-id"))
	assert.Equal(t, "duplicate", res.Outcome)
	var re *rallyerr.E
	require.ErrorAs(t, err, &re)
	assert.Equal(t, rallyerr.CodeDuplicate, re.Code)
	assert.Len(t, h.dispatch.jobs, 1)
}

func TestRateLimitPromotesToBlocklist(t *testing.T) {
	h := newPipeHarness(t, func(c *config.IngressConfig) {
		c.RateLimitPerMin = 1
		c.RateViolationLimit = 2
	})

	_, err := deliver(t, h, "5.5.5.5", chatMsg("m1"))
	require.NoError(t, err)

	for i, want := range []rallyerr.Code{rallyerr.CodeRateLimited, rallyerr.CodeRateLimited} {
		_, err := deliver(t, h, "5.5.5.5", chatMsg("m"+string(rune('2'+i))))
		var re *rallyerr.E
		require.ErrorAs(t, err, &re)
		assert.Equal(t, want, re.Code)
	}

	// Violation budget spent, the IP is now blocked outright.
	res, err := deliver(t, h, "5.5.5.5", chatMsg("m9"))
	assert.Equal(t, "blocked", res.Outcome)
	var re *rallyerr.E
	require.ErrorAs(t, err, &re)
	assert.Equal(t, rallyerr.CodeBlockedSource, re.Code)
}

func TestSpamAcceptedButNotForwarded(t *testing.T) {
	h := newPipeHarness(t, nil)
	msg := chatMsg("m1")
	msg.Text = "FREE airdrop claim now!!!"

	res, err := deliver(t, h, "1.2.3.4", msg)
	require.NoError(t, err)
	assert.Equal(t, "spam_detected", res.Outcome)
	assert.Empty(t, h.dispatch.jobs)
}

func TestRaidCommandRouting(t *testing.T) {
	h := newPipeHarness(t, nil)
	h.raids.reply = "Raid raid-abc is live."
	msg := chatMsg("m1")
	msg.Text = "!raid status"

	res, err := deliver(t, h, "1.2.3.4", msg)
	require.NoError(t, err)
	assert.Equal(t, "accepted", res.Outcome)
	assert.Equal(t, models.CategoryRaidControl, res.Category)
	assert.Equal(t, "Raid raid-abc is live.", res.Reply)

	require.Len(t, h.raids.cmds, 1)
	assert.Equal(t, raid.CmdStatus, h.raids.cmds[0].Kind)
	assert.Equal(t, []string{"Raid raid-abc is live."}, h.ad.replies)
	assert.Empty(t, h.dispatch.jobs)
}

func TestEmergencyRidesDispatch(t *testing.T) {
	h := newPipeHarness(t, nil)
	msg := chatMsg("m1")
	msg.Text = "help my wallet drained overnight"

	res, err := deliver(t, h, "1.2.3.4", msg)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryEmergency, res.Category)
	require.Len(t, h.dispatch.jobs, 1)
	assert.Equal(t, models.CategoryEmergency, h.dispatch.jobs[0].Classification.Category)
}

func TestBackpressureSurfaces(t *testing.T) {
	h := newPipeHarness(t, nil)
	h.dispatch.err = engine.ErrQueueFull

	_, err := deliver(t, h, "1.2.3.4", chatMsg("m1"))
	var re *rallyerr.E
	require.ErrorAs(t, err, &re)
	assert.Equal(t, rallyerr.CodeBackpressureExceeded, re.Code)
	assert.True(t, re.Retriable)
}

func TestNormalizeTruncatesOnRuneBoundary(t *testing.T) {
	// A multi-byte rune straddling the length cap must go, not be split.
	text := strings.Repeat("a", maxTextLen-1) + "€"
	got := normalize(models.InboundMessage{Text: text}, "web")

	assert.Len(t, got.Text, maxTextLen-1)
	assert.True(t, utf8.ValidString(got.Text))
	assert.Equal(t, strings.Repeat("a", maxTextLen-1), got.Text)

	// Text already at a boundary keeps the full cap.
	got = normalize(models.InboundMessage{Text: strings.Repeat("b", maxTextLen+5)}, "web")
	assert.Len(t, got.Text, maxTextLen)
}
