package api

import (
	"time"

	"github.com/rallyhouse/rally/pkg/datastore"
	"github.com/rallyhouse/rally/pkg/models"
)

// RenewResponse is the body for a successful renew.
type RenewResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// MessagesResponse pages a session's persisted turns.
type MessagesResponse struct {
	Messages   []models.MemoryItem `json:"messages"`
	NextCursor string              `json:"next_cursor,omitempty"`
}

// PostMessageResponse acknowledges an injected message.
type PostMessageResponse struct {
	TraceID  string `json:"trace_id"`
	Outcome  string `json:"outcome"`
	Category string `json:"category,omitempty"`
	Reply    string `json:"reply,omitempty"`
}

// LeaderboardResponse ranks raid participants.
type LeaderboardResponse struct {
	RaidID  string                `json:"raid_id"`
	Entries []*models.Participant `json:"entries"`
}

// HealthResponse is the /health body.
type HealthResponse struct {
	Status      string                          `json:"status"`
	Pools       map[string]datastore.PoolHealth `json:"pools,omitempty"`
	Loops       map[string]string               `json:"loops,omitempty"`
	Subscribers int                             `json:"subscribers"`
}

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	TraceID string `json:"trace_id"`
	Outcome string `json:"outcome"`
}
