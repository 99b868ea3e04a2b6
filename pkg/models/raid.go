package models

import (
	"time"

	"github.com/google/uuid"
)

// RaidStatus is the lifecycle state of a raid.
type RaidStatus string

const (
	RaidPending   RaidStatus = "pending"
	RaidActive    RaidStatus = "active"
	RaidCompleted RaidStatus = "completed"
	RaidAborted   RaidStatus = "aborted"
	RaidTimedOut  RaidStatus = "timed_out"
)

// Terminal reports whether the status is absorbing. Participants and the
// action log are frozen once a raid reaches a terminal status.
func (s RaidStatus) Terminal() bool {
	return s == RaidCompleted || s == RaidAborted || s == RaidTimedOut
}

// ObjectiveType enumerates the engagement kinds a raid can ask for.
type ObjectiveType string

const (
	ObjectiveLike   ObjectiveType = "like"
	ObjectiveRepost ObjectiveType = "repost"
	ObjectiveReply  ObjectiveType = "reply"
	ObjectiveQuote  ObjectiveType = "quote"
	ObjectiveFollow ObjectiveType = "follow"
)

// Valid reports whether t is a known objective type.
func (t ObjectiveType) Valid() bool {
	switch t {
	case ObjectiveLike, ObjectiveRepost, ObjectiveReply, ObjectiveQuote, ObjectiveFollow:
		return true
	}
	return false
}

// Objective is one measurable goal within a raid.
type Objective struct {
	Type            ObjectiveType `json:"type"`
	Target          string        `json:"target"`
	RequiredCount   int           `json:"required_count"`
	PointsPerAction int           `json:"points_per_action"`
}

// Participant is an identified user who has joined a raid. PointsEarned is
// the sum of points across the participant's verified actions; unverified
// actions contribute nothing.
type Participant struct {
	ParticipantID    string    `json:"participant_id"`
	PlatformID       string    `json:"platform_id"`
	DisplayName      string    `json:"display_name"`
	SecondaryID      string    `json:"secondary_id,omitempty"`
	JoinedAt         time.Time `json:"joined_at"`
	ActionsCompleted int       `json:"actions_completed"`
	PointsEarned     int       `json:"points_earned"`
	Verified         bool      `json:"verified"`
}

// Action is one attempted engagement toward an objective.
type Action struct {
	ActionID      uuid.UUID     `json:"action_id"`
	ParticipantID string        `json:"participant_id"`
	ObjectiveType ObjectiveType `json:"objective_type"`
	Target        string        `json:"target"`
	SubmittedAt   time.Time     `json:"submitted_at"`
	VerifiedAt    *time.Time    `json:"verified_at,omitempty"`
	Verified      bool          `json:"verified"`
	// Rejected marks a terminal negative verdict; the action is never
	// retried and contributes no points.
	Rejected bool   `json:"rejected,omitempty"`
	Points   int    `json:"points"`
	Proof    []byte `json:"proof,omitempty"`
}

// RaidState is the raid payload composed into kind=raid sessions.
//
// Counts track verified actions per objective type and drive the completion
// condition; Totals track the points those actions earned. Both are derived
// from the action log and must stay consistent with it.
type RaidState struct {
	RaidID          string                  `json:"raid_id"`
	TargetRef       string                  `json:"target_ref"`
	Objectives      []Objective             `json:"objectives"`
	Status          RaidStatus              `json:"status"`
	AutoStart       bool                    `json:"auto_start,omitempty"`
	DurationMS      int64                   `json:"duration_ms"`
	StartedAt       time.Time               `json:"started_at,omitzero"`
	EndsAt          time.Time               `json:"ends_at,omitzero"`
	MaxParticipants int                     `json:"max_participants"`
	Participants    map[string]*Participant `json:"participants"`
	ActionLog       []*Action               `json:"action_log"`
	Counts          map[ObjectiveType]int   `json:"counts"`
	Totals          map[ObjectiveType]int   `json:"totals"`
}

// Objective returns the declared objective for t, or nil.
func (r *RaidState) Objective(t ObjectiveType) *Objective {
	for i := range r.Objectives {
		if r.Objectives[i].Type == t {
			return &r.Objectives[i]
		}
	}
	return nil
}

// ObjectivesMet reports whether every objective has accumulated at least its
// required count of verified actions.
func (r *RaidState) ObjectivesMet() bool {
	if len(r.Objectives) == 0 {
		return false
	}
	for _, o := range r.Objectives {
		if r.Counts[o.Type] < o.RequiredCount {
			return false
		}
	}
	return true
}

// CompletionRatio returns overall progress in [0,1]: the mean of per-objective
// verified-count ratios, each capped at 1.
func (r *RaidState) CompletionRatio() float64 {
	if len(r.Objectives) == 0 {
		return 0
	}
	var sum float64
	for _, o := range r.Objectives {
		if o.RequiredCount <= 0 {
			sum++
			continue
		}
		ratio := float64(r.Counts[o.Type]) / float64(o.RequiredCount)
		if ratio > 1 {
			ratio = 1
		}
		sum += ratio
	}
	return sum / float64(len(r.Objectives))
}

// Clone returns a deep copy safe to hand outside the coordinator.
func (r *RaidState) Clone() *RaidState {
	if r == nil {
		return nil
	}
	out := *r
	out.Objectives = append([]Objective(nil), r.Objectives...)
	out.Participants = make(map[string]*Participant, len(r.Participants))
	for id, p := range r.Participants {
		cp := *p
		out.Participants[id] = &cp
	}
	out.ActionLog = make([]*Action, len(r.ActionLog))
	for i, a := range r.ActionLog {
		ca := *a
		if a.VerifiedAt != nil {
			t := *a.VerifiedAt
			ca.VerifiedAt = &t
		}
		ca.Proof = append([]byte(nil), a.Proof...)
		out.ActionLog[i] = &ca
	}
	out.Counts = make(map[ObjectiveType]int, len(r.Counts))
	for t, n := range r.Counts {
		out.Counts[t] = n
	}
	out.Totals = make(map[ObjectiveType]int, len(r.Totals))
	for t, n := range r.Totals {
		out.Totals[t] = n
	}
	return &out
}

// LeaderboardLess is the ranking order for raid participants: higher points
// first, then earlier join time, then lexicographic participant id.
func LeaderboardLess(a, b *Participant) bool {
	if a.PointsEarned != b.PointsEarned {
		return a.PointsEarned > b.PointsEarned
	}
	if !a.JoinedAt.Equal(b.JoinedAt) {
		return a.JoinedAt.Before(b.JoinedAt)
	}
	return a.ParticipantID < b.ParticipantID
}
