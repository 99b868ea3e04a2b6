// Package models holds the domain types shared across packages: sessions,
// raids, memory items, identities, and the normalized inbound message.
package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionKind distinguishes plain conversations from community rooms and raids.
type SessionKind string

const (
	KindConversation SessionKind = "conversation"
	KindCommunity    SessionKind = "community"
	KindRaid         SessionKind = "raid"
)

// Valid reports whether k is one of the known session kinds.
func (k SessionKind) Valid() bool {
	switch k {
	case KindConversation, KindCommunity, KindRaid:
		return true
	}
	return false
}

// SessionState is the lifecycle state of a session.
type SessionState string

const (
	SessionActive    SessionState = "active"
	SessionExpired   SessionState = "expired"
	SessionCompleted SessionState = "completed"
	SessionFailed    SessionState = "failed"
)

// Terminal reports whether the state is absorbing.
func (s SessionState) Terminal() bool {
	return s == SessionExpired || s == SessionCompleted || s == SessionFailed
}

// RenewalPolicy controls how a session's expiry moves forward.
type RenewalPolicy string

const (
	RenewNone       RenewalPolicy = "none"
	RenewOnActivity RenewalPolicy = "on-activity"
	RenewExplicit   RenewalPolicy = "explicit"
)

// Valid reports whether p is a known renewal policy.
func (p RenewalPolicy) Valid() bool {
	switch p {
	case RenewNone, RenewOnActivity, RenewExplicit:
		return true
	}
	return false
}

// Session is the primary aggregate: the durable context a series of messages
// and engine responses belong to. Kind=raid sessions additionally carry a
// RaidState; the Raid pointer is nil for every other kind.
type Session struct {
	ID             uuid.UUID      `json:"id"`
	AgentID        string         `json:"agent_id"`
	UserID         string         `json:"user_id,omitempty"`
	RoomID         string         `json:"room_id"`
	Kind           SessionKind    `json:"kind"`
	State          SessionState   `json:"state"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActivityAt time.Time      `json:"last_activity_at"`
	ExpiresAt      time.Time      `json:"expires_at"`
	EndedAt        *time.Time     `json:"ended_at,omitempty"`
	TimeoutMS      int64          `json:"timeout_ms"`
	RenewalPolicy  RenewalPolicy  `json:"renewal_policy"`
	MessageCount   int64          `json:"message_count"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Raid           *RaidState     `json:"raid,omitempty"`
}

// Timeout returns the configured inactivity timeout as a duration.
func (s *Session) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// EffectiveState returns the state as of now: an active session whose expiry
// has passed reads as expired even before the sweep has transitioned it.
func (s *Session) EffectiveState(now time.Time) SessionState {
	if s.State == SessionActive && !now.Before(s.ExpiresAt) {
		return SessionExpired
	}
	return s.State
}

// Clone returns a deep copy safe to hand outside the owning component.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.EndedAt != nil {
		t := *s.EndedAt
		out.EndedAt = &t
	}
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	out.Raid = s.Raid.Clone()
	return &out
}
