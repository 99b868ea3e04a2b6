package bus

import (
	"errors"
	"time"

	"github.com/rallyhouse/rally/pkg/models"
)

// ErrBusClosed is returned by Subscribe after Shutdown has begun.
var ErrBusClosed = errors.New("bus closed")

// Event names carried in the envelope. Subscribers filter on these.
const (
	EventSessionCreated = "session.created"
	EventSessionExpired = "session.expired"
	EventSessionEnded   = "session.ended"
	EventSessionMessage = "session.message"

	EventRaidParticipantJoined = "raid.participant_joined"
	EventRaidProgress          = "raid.progress"
	EventRaidEnded             = "raid.ended"

	EventShutdown = "system.shutdown"
)

// SessionLifecyclePayload accompanies session.created / expired / ended.
type SessionLifecyclePayload struct {
	SessionID string              `json:"session_id"`
	AgentID   string              `json:"agent_id"`
	RoomID    string              `json:"room_id"`
	Kind      models.SessionKind  `json:"kind"`
	State     models.SessionState `json:"state"`
	ExpiresAt time.Time           `json:"expires_at,omitzero"`
	Reason    string              `json:"reason,omitempty"`
}

// SessionMessagePayload accompanies session.message: one completed turn
// pair (user input plus the engine's response).
type SessionMessagePayload struct {
	SessionID      string                `json:"session_id"`
	AgentID        string                `json:"agent_id"`
	RoomID         string                `json:"room_id"`
	UserText       string                `json:"user_text"`
	ResponseText   string                `json:"response_text"`
	Classification models.Classification `json:"classification"`
	MessageCount   int64                 `json:"message_count"`
}

// RaidJoinedPayload accompanies raid.participant_joined.
type RaidJoinedPayload struct {
	RaidID        string `json:"raid_id"`
	ParticipantID string `json:"participant_id"`
	DisplayName   string `json:"display_name"`
	Participants  int    `json:"participants"`
	MaxAllowed    int    `json:"max_allowed"`
}

// RaidProgressPayload accompanies raid.progress after a verified action.
type RaidProgressPayload struct {
	RaidID          string                       `json:"raid_id"`
	ParticipantID   string                       `json:"participant_id"`
	ObjectiveType   models.ObjectiveType         `json:"objective_type"`
	PointsAwarded   int                          `json:"points_awarded"`
	Totals          map[models.ObjectiveType]int `json:"totals"`
	CompletionRatio float64                      `json:"completion_ratio"`
}

// RaidEndedPayload accompanies raid.ended for every terminal transition.
type RaidEndedPayload struct {
	RaidID string                       `json:"raid_id"`
	Status models.RaidStatus            `json:"status"`
	Reason string                       `json:"reason,omitempty"`
	Totals map[models.ObjectiveType]int `json:"totals"`
}

// PublishSessionLifecycle emits a lifecycle event on both the session topic
// and the owning agent's topic.
func (b *Bus) PublishSessionLifecycle(event string, s *models.Session, reason string) {
	p := SessionLifecyclePayload{
		SessionID: s.ID.String(),
		AgentID:   s.AgentID,
		RoomID:    s.RoomID,
		Kind:      s.Kind,
		State:     s.State,
		ExpiresAt: s.ExpiresAt,
		Reason:    reason,
	}
	b.Publish(SessionTopic(p.SessionID), event, p)
	b.Publish(AgentTopic(s.AgentID), event, p)
}

// PublishSessionMessage emits session.message on the session topic.
func (b *Bus) PublishSessionMessage(p SessionMessagePayload) {
	b.Publish(SessionTopic(p.SessionID), EventSessionMessage, p)
}

// PublishRaid emits a raid event on the raid topic.
func (b *Bus) PublishRaid(event, raidID string, payload any) {
	b.Publish(RaidTopic(raidID), event, payload)
}
