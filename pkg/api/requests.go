package api

// CreateSessionRequest is the body for POST /api/v1/sessions.
type CreateSessionRequest struct {
	AgentID       string         `json:"agent_id"`
	UserID        string         `json:"user_id,omitempty"`
	RoomID        string         `json:"room_id"`
	Kind          string         `json:"kind,omitempty"`
	TimeoutMS     int64          `json:"timeout_ms,omitempty"`
	RenewalPolicy string         `json:"renewal_policy,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// RenewSessionRequest is the body for POST /api/v1/sessions/:id/renew.
type RenewSessionRequest struct {
	ExtraMS int64 `json:"extra_ms"`
}

// PostMessageRequest is the body for POST /api/v1/sessions/:id/messages.
type PostMessageRequest struct {
	UserKey     string   `json:"user_key"`
	Text        string   `json:"text"`
	Attachments []string `json:"attachments,omitempty"`
	MessageRef  string   `json:"message_ref,omitempty"`
}

// CreateRaidRequest is the body for POST /api/v1/raids.
type CreateRaidRequest struct {
	AgentID         string         `json:"agent_id"`
	RoomID          string         `json:"room_id"`
	TargetRef       string         `json:"target_ref"`
	Objectives      []ObjectiveReq `json:"objectives"`
	MaxParticipants int            `json:"max_participants,omitempty"`
	DurationMS      int64          `json:"duration_ms,omitempty"`
	AutoStart       *bool          `json:"auto_start,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
}

// ObjectiveReq is one objective in a raid create request.
type ObjectiveReq struct {
	Type            string `json:"type"`
	Target          string `json:"target,omitempty"`
	RequiredCount   int    `json:"required_count"`
	PointsPerAction int    `json:"points_per_action"`
}

// JoinRaidRequest is the body for POST /api/v1/raids/:id/join.
type JoinRaidRequest struct {
	ParticipantID string `json:"participant_id"`
	PlatformID    string `json:"platform_id"`
	DisplayName   string `json:"display_name,omitempty"`
	SecondaryID   string `json:"secondary_id,omitempty"`
}

// RecordActionRequest is the body for POST /api/v1/raids/:id/actions.
type RecordActionRequest struct {
	ParticipantID string `json:"participant_id"`
	ObjectiveType string `json:"objective_type"`
	Target        string `json:"target,omitempty"`
	Proof         []byte `json:"proof,omitempty"`
}
