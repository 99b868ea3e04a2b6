// Package adapter holds the platform-facing edges of the ingress pipeline.
// Each adapter authenticates a raw webhook delivery, parses it into the
// canonical inbound form, and can push a reply back to its platform.
package adapter

import (
	"context"
	"errors"
	"net/http"

	"github.com/rallyhouse/rally/pkg/models"
)

var (
	// ErrInvalidSignature means the delivery failed platform
	// authentication.
	ErrInvalidSignature = errors.New("invalid webhook signature")

	// ErrMalformedPayload means the body did not parse into the
	// platform's expected shape.
	ErrMalformedPayload = errors.New("malformed webhook payload")
)

// Adapter is one platform edge.
type Adapter interface {
	// Platform names the adapter ("telegram", "discord", "web").
	Platform() string

	// Verify authenticates the raw delivery before anything is parsed.
	Verify(r *http.Request, body []byte) error

	// Parse normalizes the delivery into the canonical inbound form.
	Parse(body []byte, hdr http.Header) (models.InboundMessage, error)

	// Reply pushes text back to the platform target the message came
	// from.
	Reply(ctx context.Context, target, text string, attachments []string) error
}

// Registry maps platform names to adapters.
type Registry map[string]Adapter

// NewRegistry indexes adapters by platform name.
func NewRegistry(adapters ...Adapter) Registry {
	reg := make(Registry, len(adapters))
	for _, a := range adapters {
		reg[a.Platform()] = a
	}
	return reg
}

// Get returns the adapter for a platform.
func (r Registry) Get(platform string) (Adapter, bool) {
	a, ok := r[platform]
	return a, ok
}
