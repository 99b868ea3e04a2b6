package models

import "time"

// InboundMessage is the canonical form every ingress adapter normalizes to.
// RawRef points back at the adapter-side artifact (platform message id or
// delivery id) for audit trails.
type InboundMessage struct {
	SourcePlatform string    `json:"source_platform"`
	SourceUserKey  string    `json:"source_user_key"`
	RoomKey        string    `json:"room_key"`
	Text           string    `json:"text,omitempty"`
	Attachments    []string  `json:"attachments,omitempty"`
	RawRef         string    `json:"raw_ref"`
	ReceivedAt     time.Time `json:"received_at"`
}

// Category is the coarse classification assigned to an inbound message.
type Category string

const (
	CategoryCommunityChat      Category = "community-chat"
	CategoryRaidControl        Category = "raid-control"
	CategoryCryptoQuery        Category = "crypto-query"
	CategoryMeme               Category = "meme"
	CategorySupport            Category = "support"
	CategoryPersonalityTrigger Category = "personality-trigger"
	CategoryEmergency          Category = "emergency"
	CategoryUnknown            Category = "unknown"
)

// Classification is the stage-2 pipeline verdict for an inbound message.
type Classification struct {
	Category        Category `json:"category"`
	Confidence      float64  `json:"confidence"`
	SuspensionHints []string `json:"suspension_hints,omitempty"`
}
