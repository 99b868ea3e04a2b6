package adapter

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rallyhouse/rally/pkg/models"
)

// Discord signature headers per the interactions protocol.
const (
	discordSignatureHeader = "X-Signature-Ed25519"
	discordTimestampHeader = "X-Signature-Timestamp"
)

// Discord handles Discord webhook deliveries signed with the application's
// ed25519 key.
type Discord struct {
	publicKey ed25519.PublicKey
	log       *slog.Logger
}

// NewDiscord creates a Discord adapter from the hex-encoded application
// public key. An empty key disables signature checking.
func NewDiscord(publicKeyHex string) (*Discord, error) {
	d := &Discord{log: slog.With("component", "adapter", "platform", "discord")}
	if publicKeyHex == "" {
		return d, nil
	}
	raw, err := hex.DecodeString(publicKeyHex)
	if err != nil {
		return nil, fmt.Errorf("decoding discord public key: %w", err)
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("discord public key has %d bytes, want %d", len(raw), ed25519.PublicKeySize)
	}
	d.publicKey = ed25519.PublicKey(raw)
	return d, nil
}

func (d *Discord) Platform() string { return "discord" }

// Verify checks the ed25519 signature over timestamp + body.
func (d *Discord) Verify(r *http.Request, body []byte) error {
	if d.publicKey == nil {
		return nil
	}
	sig, err := hex.DecodeString(r.Header.Get(discordSignatureHeader))
	if err != nil || len(sig) != ed25519.SignatureSize {
		return ErrInvalidSignature
	}
	ts := r.Header.Get(discordTimestampHeader)
	if ts == "" {
		return ErrInvalidSignature
	}
	signed := append([]byte(ts), body...)
	if !ed25519.Verify(d.publicKey, signed, sig) {
		return ErrInvalidSignature
	}
	return nil
}

type discordMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Author    *struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"author"`
	Attachments []struct {
		URL string `json:"url"`
	} `json:"attachments"`
}

// Parse normalizes a Discord message delivery.
func (d *Discord) Parse(body []byte, _ http.Header) (models.InboundMessage, error) {
	var m discordMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return models.InboundMessage{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if m.Author == nil || m.ID == "" {
		return models.InboundMessage{}, fmt.Errorf("%w: delivery carries no author", ErrMalformedPayload)
	}

	receivedAt := time.Now().UTC()
	if m.Timestamp != "" {
		if ts, err := time.Parse(time.RFC3339, m.Timestamp); err == nil {
			receivedAt = ts.UTC()
		}
	}
	msg := models.InboundMessage{
		SourcePlatform: d.Platform(),
		SourceUserKey:  m.Author.ID,
		RoomKey:        m.ChannelID,
		Text:           m.Content,
		RawRef:         m.ID,
		ReceivedAt:     receivedAt,
	}
	for _, a := range m.Attachments {
		msg.Attachments = append(msg.Attachments, a.URL)
	}
	return msg, nil
}

// Reply is a no-op placeholder, as with the Telegram adapter.
func (d *Discord) Reply(_ context.Context, target, text string, _ []string) error {
	d.log.Debug("Reply suppressed, no outbound transport", "target", target, "chars", len(text))
	return nil
}
