package models

import (
	"time"

	"github.com/google/uuid"
)

// Memory item kinds with dedicated handling. Arbitrary kinds are allowed;
// these are the ones the core itself writes.
const (
	MemoryKindMessage = "message"
	MemoryKindFact    = "fact"
	MemoryKindEvent   = "event"
)

// Turn roles stored in message-kind memory items.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// MemoryBody is the stored content of a memory item: free text plus optional
// structured fields.
type MemoryBody struct {
	Text   string         `json:"text"`
	Fields map[string]any `json:"fields,omitempty"`
}

// MemoryItem is one persisted unit of conversational memory. Embedding is
// optional; when present its length equals the process-wide embedding
// dimension.
type MemoryItem struct {
	ID        uuid.UUID  `json:"id"`
	AgentID   string     `json:"agent_id"`
	RoomID    string     `json:"room_id"`
	EntityID  string     `json:"entity_id,omitempty"`
	Kind      string     `json:"kind"`
	Body      MemoryBody `json:"body"`
	Embedding []float32  `json:"embedding,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// ScoredMemory pairs a memory item with its similarity to a search query.
type ScoredMemory struct {
	Item       MemoryItem `json:"item"`
	Similarity float64    `json:"similarity"`
}
