package notify

import (
	"context"
	"testing"
	"time"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rallyhouse/rally/pkg/config"
	"github.com/rallyhouse/rally/pkg/models"
)

func TestNewDisabledWithoutWebhook(t *testing.T) {
	assert.Nil(t, New(config.NotifyConfig{}))

	// A nil notifier is callable.
	var n *Notifier
	n.RaidStarted(context.Background(), "raid-1", "target", time.Now())
	n.RaidEnded(context.Background(), "raid-1", models.RaidCompleted, nil)
	n.LoopDegraded(context.Background(), "sweep", assert.AnError)
}

func TestRaidEndedMessage(t *testing.T) {
	n := New(config.NotifyConfig{SlackWebhookURL: "https://hooks.slack.test/x", Channel: "#raids"})
	require.NotNil(t, n)

	var got *goslack.WebhookMessage
	n.post = func(_ context.Context, url string, msg *goslack.WebhookMessage) error {
		assert.Equal(t, "https://hooks.slack.test/x", url)
		got = msg
		return nil
	}

	n.RaidEnded(context.Background(), "raid-abc", models.RaidCompleted, []*models.Participant{
		{ParticipantID: "p-1", DisplayName: "Raider One", PointsEarned: 12},
		{ParticipantID: "p-2", PointsEarned: 7},
	})

	require.NotNil(t, got)
	assert.Equal(t, "#raids", got.Channel)
	assert.Contains(t, got.Text, "raid-abc")
	assert.Contains(t, got.Text, "1. Raider One — 12 pts")
	assert.Contains(t, got.Text, "2. p-2 — 7 pts")
}

func TestDeliveryFailureOnlyLogs(t *testing.T) {
	n := New(config.NotifyConfig{SlackWebhookURL: "https://hooks.slack.test/x"})
	n.post = func(context.Context, string, *goslack.WebhookMessage) error {
		return assert.AnError
	}
	// Must not panic or propagate.
	n.LoopDegraded(context.Background(), "sweep", assert.AnError)
}
