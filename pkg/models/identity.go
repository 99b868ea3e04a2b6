package models

import (
	"time"

	"github.com/google/uuid"
)

// IdentityBinding links a platform-scoped user id to a stable internal id.
// The (Platform, PlatformID) pair is unique; one internal id may hold
// bindings on several platforms.
type IdentityBinding struct {
	InternalID uuid.UUID `json:"internal_id"`
	Platform   string    `json:"platform"`
	PlatformID string    `json:"platform_id"`
	Verified   bool      `json:"verified"`
	LinkedAt   time.Time `json:"linked_at"`
}
