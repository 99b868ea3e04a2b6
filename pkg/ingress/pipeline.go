package ingress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rallyhouse/rally/pkg/config"
	"github.com/rallyhouse/rally/pkg/engine"
	"github.com/rallyhouse/rally/pkg/ingress/adapter"
	"github.com/rallyhouse/rally/pkg/metrics"
	"github.com/rallyhouse/rally/pkg/models"
	"github.com/rallyhouse/rally/pkg/prompt"
	"github.com/rallyhouse/rally/pkg/raid"
	"github.com/rallyhouse/rally/pkg/rallyerr"
	"github.com/rallyhouse/rally/pkg/session"
)

// maxTextLen caps normalized message text.
const maxTextLen = 8192

// IdentityResolver is the slice of the identity service the pipeline needs.
type IdentityResolver interface {
	Resolve(ctx context.Context, platform, platformID string) (uuid.UUID, error)
	Lookup(ctx context.Context, platform, platformID string) (models.IdentityBinding, error)
}

// MemoryReader is the slice of the memory store used for prompt context.
type MemoryReader interface {
	GetRecent(ctx context.Context, roomID string, limit int) ([]models.MemoryItem, error)
	Search(ctx context.Context, roomID, query string, k int, minSimilarity float64) ([]models.ScoredMemory, error)
}

// RaidCommander executes parsed raid-control commands.
type RaidCommander interface {
	Execute(ctx context.Context, agentID, roomID string, from raid.JoinParams, cmd raid.Command) (string, error)
}

// Dispatcher hands accepted conversational work to the engine workers.
type Dispatcher interface {
	Enqueue(job engine.Job) error
}

// Result is what a webhook delivery produced. Outcome is the terminal
// pipeline outcome label; Reply is the synchronous text for raid-control
// commands (conversational replies arrive async via the dispatcher).
type Result struct {
	TraceID  uuid.UUID
	Outcome  string
	Category models.Category
	Reply    string
}

// Pipeline is the two-stage inbound path: policy gate, then classification
// and routing.
type Pipeline struct {
	cfg      config.IngressConfig
	agentID  string
	adapters adapter.Registry

	blocklist *blocklist
	limiter   *rateLimiter
	dedup     Deduper

	sessions *session.Manager
	raids    RaidCommander
	identity IdentityResolver
	memories MemoryReader
	personas *prompt.Library
	dispatch Dispatcher
	log      *slog.Logger
}

// New assembles the pipeline. identity, memories, raids, and dispatch may be
// nil in reduced deployments; the affected routes degrade instead of
// crashing.
func New(cfg config.IngressConfig, rcfg config.RedisConfig, agentID string, adapters adapter.Registry,
	sessions *session.Manager, raids RaidCommander, identity IdentityResolver,
	memories MemoryReader, personas *prompt.Library, dispatch Dispatcher) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		agentID:   agentID,
		adapters:  adapters,
		blocklist: newBlocklist(cfg.Blocklist),
		limiter:   newRateLimiter(cfg.RateLimitPerMin, cfg.RateViolationLimit, cfg.RateViolationWindow),
		dedup:     NewDeduper(cfg, rcfg),
		sessions:  sessions,
		raids:     raids,
		identity:  identity,
		memories:  memories,
		personas:  personas,
		dispatch:  dispatch,
		log:       slog.With("component", "ingress"),
	}
}

// Process runs one webhook delivery through both stages. A non-nil error is
// always a *rallyerr.E describing why the delivery was rejected; spam is
// accepted (nil error) but never forwarded.
func (p *Pipeline) Process(ctx context.Context, platform, sourceIP string, r *http.Request, body []byte) (Result, error) {
	res := Result{TraceID: uuid.New()}

	ad, ok := p.adapters.Get(platform)
	if !ok {
		return p.reject(res, platform, "adapter", "unknown_platform",
			rallyerr.Newf(rallyerr.CodeInvalidRequest, "unknown platform %q", platform))
	}

	done := p.stage(res.TraceID, platform, "blocklist", "source_ip")
	if p.blocklist.Blocked(sourceIP) {
		done("blocked")
		return p.reject(res, platform, "", "blocked",
			rallyerr.New(rallyerr.CodeBlockedSource, "source is blocklisted"))
	}
	done("ok")

	done = p.stage(res.TraceID, platform, "verify", "signature")
	if err := ad.Verify(r, body); err != nil {
		done("invalid_signature")
		return p.reject(res, platform, "", "invalid_signature",
			rallyerr.New(rallyerr.CodeInvalidSignature, "webhook signature verification failed"))
	}
	done("ok")

	done = p.stage(res.TraceID, platform, "parse", "schema")
	msg, err := ad.Parse(body, r.Header)
	if err != nil {
		done("malformed")
		return p.reject(res, platform, "", "malformed",
			rallyerr.New(rallyerr.CodeInvalidRequest, "payload did not parse"))
	}
	done("ok")

	if p.blocklist.Blocked(msg.SourceUserKey) {
		return p.reject(res, platform, "blocklist", "blocked",
			rallyerr.New(rallyerr.CodeBlockedSource, "sender is blocklisted"))
	}

	done = p.stage(res.TraceID, platform, "rate_limit", "token_bucket")
	allowed, promote := p.limiter.Allow(sourceIP, msg.SourceUserKey)
	if !allowed {
		if promote {
			p.blocklist.Block(sourceIP)
			p.log.Warn("source ip auto-blocklisted",
				"trace_id", res.TraceID, "source_ip", sourceIP)
		}
		done("rate_limited")
		e := rallyerr.New(rallyerr.CodeRateLimited, "rate limit exceeded")
		e.RetryAfterMS = time.Minute.Milliseconds()
		return p.reject(res, platform, "", "rate_limited", e)
	}
	done("ok")

	done = p.stage(res.TraceID, platform, "dedup", "message_id")
	seen, err := p.dedup.Seen(ctx, platform, msg.RawRef)
	if err != nil {
		done("error")
		return p.reject(res, platform, "", "error",
			rallyerr.New(rallyerr.CodeInternal, "dedup check failed"))
	}
	if seen {
		done("duplicate")
		return p.reject(res, platform, "", "duplicate",
			rallyerr.New(rallyerr.CodeDuplicate, "message already processed"))
	}
	done("ok")

	done = p.stage(res.TraceID, platform, "validate", "required_fields,text_len")
	if err := validateMessage(msg); err != nil {
		done("invalid")
		return p.reject(res, platform, "", "invalid",
			rallyerr.New(rallyerr.CodeInvalidRequest, err.Error()))
	}
	done("ok")

	done = p.stage(res.TraceID, platform, "spam", "heuristics")
	if rule := spamMatch(msg.Text); rule != "" {
		done("spam_detected")
		metrics.IngressOutcomes.WithLabelValues(platform, "spam_detected").Inc()
		p.log.Info("spam dropped", "trace_id", res.TraceID, "rule", rule,
			"platform", platform, "user", msg.SourceUserKey)
		res.Outcome = "spam_detected"
		return res, nil
	}
	done("ok")

	msg = normalize(msg, platform)

	cl := classify(msg)
	metrics.Classifications.WithLabelValues(string(cl.Category)).Inc()
	res.Category = cl.Category

	reply, err := p.route(ctx, ad, msg, cl, res.TraceID)
	if err != nil {
		var re *rallyerr.E
		if !errors.As(err, &re) {
			re = rallyerr.New(rallyerr.CodeInternal, err.Error())
		}
		return p.reject(res, platform, "route", string(re.Code), re)
	}

	metrics.IngressOutcomes.WithLabelValues(platform, "accepted").Inc()
	res.Outcome = "accepted"
	res.Reply = reply
	return res, nil
}

// Inject runs a pre-authenticated message through stage 2 only, bound to
// the given session. The REST surface uses it for messages posted directly
// against a session, where webhook-level policy (signatures, rate limits,
// dedup) does not apply and the session is already resolved.
func (p *Pipeline) Inject(ctx context.Context, target *models.Session, msg models.InboundMessage) (Result, error) {
	res := Result{TraceID: uuid.New()}
	if err := validateMessage(msg); err != nil {
		return res, rallyerr.New(rallyerr.CodeInvalidRequest, err.Error())
	}
	platform := msg.SourcePlatform
	if platform == "" {
		platform = "web"
	}
	msg = normalize(msg, platform)

	cl := classify(msg)
	metrics.Classifications.WithLabelValues(string(cl.Category)).Inc()
	res.Category = cl.Category

	ad, ok := p.adapters.Get(platform)
	if !ok {
		ad = noopAdapter{platform: platform}
	}
	reply, err := p.routeTo(ctx, ad, target, msg, cl, res.TraceID)
	if err != nil {
		return res, err
	}
	metrics.IngressOutcomes.WithLabelValues(platform, "accepted").Inc()
	res.Outcome = "accepted"
	res.Reply = reply
	return res, nil
}

// noopAdapter backs injected messages for platforms with no registered
// adapter; replies ride the event stream instead.
type noopAdapter struct{ platform string }

func (a noopAdapter) Platform() string { return a.platform }

func (a noopAdapter) Verify(*http.Request, []byte) error { return nil }

func (a noopAdapter) Parse([]byte, http.Header) (models.InboundMessage, error) {
	return models.InboundMessage{}, adapter.ErrMalformedPayload
}

func (a noopAdapter) Reply(context.Context, string, string, []string) error { return nil }

// route is stage 2: find the session for the message's room and hand the
// message to the raid command executor or the engine dispatcher.
func (p *Pipeline) route(ctx context.Context, ad adapter.Adapter, msg models.InboundMessage,
	cl models.Classification, traceID uuid.UUID) (string, error) {
	sess, err := p.sessions.FindOrCreateForRoom(ctx, p.agentID, msg.RoomKey, models.KindCommunity)
	if err != nil {
		return "", err
	}
	return p.routeTo(ctx, ad, sess, msg, cl, traceID)
}

// routeTo routes against an already resolved session; injected messages
// stay bound to the session they were addressed to.
func (p *Pipeline) routeTo(ctx context.Context, ad adapter.Adapter, sess *models.Session,
	msg models.InboundMessage, cl models.Classification, traceID uuid.UUID) (string, error) {
	if cl.Category == models.CategoryRaidControl {
		return p.routeRaidCommand(ctx, ad, sess, msg)
	}

	in := prompt.Input{
		Session:        sess,
		Incoming:       msg,
		Classification: cl,
		Personality:    p.personas.Default(),
	}
	if p.memories != nil {
		if recent, err := p.memories.GetRecent(ctx, msg.RoomKey, 0); err == nil {
			in.Recent = recent
		} else {
			p.log.Warn("recent memory unavailable", "trace_id", traceID, "error", err)
		}
		if msg.Text != "" {
			if hits, err := p.memories.Search(ctx, msg.RoomKey, msg.Text, 5, 0.75); err == nil {
				in.Semantic = hits
			} else {
				p.log.Warn("semantic memory unavailable", "trace_id", traceID, "error", err)
			}
		}
	}
	if p.identity != nil {
		if b, err := p.identity.Lookup(ctx, msg.SourcePlatform, msg.SourceUserKey); err == nil {
			in.Identity = &b
		}
	}

	if p.dispatch == nil {
		return "", rallyerr.New(rallyerr.CodeUpstreamUnavailable, "engine dispatcher not configured")
	}
	job := engine.Job{
		SessionID:      sess.ID,
		AgentID:        sess.AgentID,
		RoomID:         sess.RoomID,
		Incoming:       msg,
		Classification: cl,
		Request:        prompt.Compose(in),
		Reply: func(ctx context.Context, text string) error {
			return ad.Reply(ctx, msg.RoomKey, text, nil)
		},
	}
	if err := p.dispatch.Enqueue(job); err != nil {
		if errors.Is(err, engine.ErrQueueFull) {
			return "", rallyerr.New(rallyerr.CodeBackpressureExceeded, "engine queue full")
		}
		return "", err
	}
	return "", nil
}

func (p *Pipeline) routeRaidCommand(ctx context.Context, ad adapter.Adapter, sess *models.Session, msg models.InboundMessage) (string, error) {
	if p.raids == nil {
		return "", rallyerr.New(rallyerr.CodeUpstreamUnavailable, "raid coordinator not configured")
	}
	cmd, err := raid.ParseCommand(msg.Text)
	if err != nil {
		return "Unrecognized raid command. Try !raid help.", nil
	}
	from := raid.JoinParams{
		ParticipantID: msg.SourceUserKey,
		PlatformID:    msg.SourceUserKey,
		DisplayName:   msg.SourceUserKey,
	}
	if p.identity != nil {
		if id, err := p.identity.Resolve(ctx, msg.SourcePlatform, msg.SourceUserKey); err == nil {
			from.ParticipantID = id.String()
		}
	}
	reply, err := p.raids.Execute(ctx, sess.AgentID, sess.RoomID, from, cmd)
	if err != nil {
		return "", err
	}
	if replyErr := ad.Reply(ctx, msg.RoomKey, reply, nil); replyErr != nil {
		p.log.Warn("raid command reply failed", "room", msg.RoomKey, "error", replyErr)
	}
	return reply, nil
}

// stage starts a substep timer. The returned func records the substep's
// outcome, duration, and observability event.
func (p *Pipeline) stage(traceID uuid.UUID, platform, name, checks string) func(outcome string) {
	start := time.Now()
	return func(outcome string) {
		elapsed := time.Since(start)
		metrics.StageDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		p.log.Debug("pipeline stage",
			"trace_id", traceID,
			"platform", platform,
			"stage", name,
			"outcome", outcome,
			"checks_applied", checks,
			"elapsed_ns", elapsed.Nanoseconds())
	}
}

func (p *Pipeline) reject(res Result, platform, stage, outcome string, err *rallyerr.E) (Result, error) {
	if stage != "" {
		p.stage(res.TraceID, platform, stage, "")(outcome)
	}
	metrics.IngressOutcomes.WithLabelValues(platform, outcome).Inc()
	res.Outcome = outcome
	return res, err
}

func validateMessage(msg models.InboundMessage) error {
	switch {
	case msg.SourceUserKey == "":
		return fmt.Errorf("missing sender")
	case msg.RoomKey == "":
		return fmt.Errorf("missing room")
	case msg.RawRef == "":
		return fmt.Errorf("missing message reference")
	case strings.TrimSpace(msg.Text) == "" && len(msg.Attachments) == 0:
		return fmt.Errorf("empty message")
	case !utf8.ValidString(msg.Text):
		return fmt.Errorf("text is not valid utf-8")
	}
	return nil
}

func normalize(msg models.InboundMessage, platform string) models.InboundMessage {
	msg.SourcePlatform = platform
	msg.Text = strings.TrimSpace(msg.Text)
	if len(msg.Text) > maxTextLen {
		cut := maxTextLen
		// Back off to a rune boundary so the cap never splits a rune.
		for cut > 0 && !utf8.RuneStart(msg.Text[cut]) {
			cut--
		}
		msg.Text = msg.Text[:cut]
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	return msg
}
