// Package notify pushes raid lifecycle summaries and loop health alerts to
// an ops Slack channel. Everything here is fire-and-forget: a nil or
// unconfigured notifier is a no-op and delivery failures only log.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/rallyhouse/rally/pkg/config"
	"github.com/rallyhouse/rally/pkg/models"
)

const postTimeout = 5 * time.Second

var statusEmoji = map[models.RaidStatus]string{
	models.RaidCompleted: ":trophy:",
	models.RaidTimedOut:  ":hourglass:",
	models.RaidAborted:   ":no_entry_sign:",
}

// Notifier posts to a Slack incoming webhook.
type Notifier struct {
	webhookURL string
	channel    string
	log        *slog.Logger

	post func(ctx context.Context, url string, msg *goslack.WebhookMessage) error
}

// New creates a Notifier. Returns nil when no webhook URL is configured;
// callers treat a nil Notifier as disabled.
func New(cfg config.NotifyConfig) *Notifier {
	if cfg.SlackWebhookURL == "" {
		return nil
	}
	return &Notifier{
		webhookURL: cfg.SlackWebhookURL,
		channel:    cfg.Channel,
		log:        slog.With("component", "notify"),
		post:       goslack.PostWebhookContext,
	}
}

// RaidStarted announces a newly active raid.
func (n *Notifier) RaidStarted(ctx context.Context, raidID, targetRef string, endsAt time.Time) {
	if n == nil {
		return
	}
	n.send(ctx, fmt.Sprintf(":crossed_swords: Raid *%s* is live against %s, ends <!date^%d^{time}|%s>.",
		raidID, targetRef, endsAt.Unix(), endsAt.UTC().Format(time.RFC3339)))
}

// RaidEnded summarizes a finished raid with its top participants.
func (n *Notifier) RaidEnded(ctx context.Context, raidID string, status models.RaidStatus, top []*models.Participant) {
	if n == nil {
		return
	}
	emoji := statusEmoji[status]
	if emoji == "" {
		emoji = ":checkered_flag:"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s Raid *%s* ended: %s.", emoji, raidID, status)
	for i, p := range top {
		name := p.DisplayName
		if name == "" {
			name = p.ParticipantID
		}
		fmt.Fprintf(&b, "\n%d. %s — %d pts", i+1, name, p.PointsEarned)
	}
	n.send(ctx, b.String())
}

// LoopDegraded alerts that a background loop keeps failing.
func (n *Notifier) LoopDegraded(ctx context.Context, loop string, err error) {
	if n == nil {
		return
	}
	n.send(ctx, fmt.Sprintf(":rotating_light: Loop *%s* is degraded: %v", loop, err))
}

func (n *Notifier) send(ctx context.Context, text string) {
	ctx, cancel := context.WithTimeout(ctx, postTimeout)
	defer cancel()
	msg := &goslack.WebhookMessage{Text: text, Channel: n.channel}
	if err := n.post(ctx, n.webhookURL, msg); err != nil {
		n.log.Warn("Slack notification failed", "error", err)
	}
}
