package adapter

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rallyhouse/rally/pkg/models"
)

// webSignatureHeader carries the hex HMAC-SHA256 digest of the body.
const webSignatureHeader = "X-Rally-Signature"

// Web handles first-party web client deliveries authenticated with a
// shared HMAC secret.
type Web struct {
	secret []byte
	log    *slog.Logger
}

// NewWeb creates a Web adapter. An empty secret disables signature
// checking.
func NewWeb(secret string) *Web {
	w := &Web{log: slog.With("component", "adapter", "platform", "web")}
	if secret != "" {
		w.secret = []byte(secret)
	}
	return w
}

func (w *Web) Platform() string { return "web" }

// Verify checks the body digest.
func (w *Web) Verify(r *http.Request, body []byte) error {
	if w.secret == nil {
		return nil
	}
	got, err := hex.DecodeString(r.Header.Get(webSignatureHeader))
	if err != nil {
		return ErrInvalidSignature
	}
	mac := hmac.New(sha256.New, w.secret)
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return ErrInvalidSignature
	}
	return nil
}

type webMessage struct {
	MessageID   string   `json:"message_id"`
	UserKey     string   `json:"user_key"`
	RoomKey     string   `json:"room_key"`
	Text        string   `json:"text"`
	Attachments []string `json:"attachments"`
	SentAt      string   `json:"sent_at"`
}

// Parse normalizes a web client delivery.
func (w *Web) Parse(body []byte, _ http.Header) (models.InboundMessage, error) {
	var m webMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return models.InboundMessage{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if m.MessageID == "" || m.UserKey == "" {
		return models.InboundMessage{}, fmt.Errorf("%w: message_id and user_key are required", ErrMalformedPayload)
	}

	receivedAt := time.Now().UTC()
	if m.SentAt != "" {
		if ts, err := time.Parse(time.RFC3339, m.SentAt); err == nil {
			receivedAt = ts.UTC()
		}
	}
	return models.InboundMessage{
		SourcePlatform: w.Platform(),
		SourceUserKey:  m.UserKey,
		RoomKey:        m.RoomKey,
		Text:           m.Text,
		Attachments:    m.Attachments,
		RawRef:         m.MessageID,
		ReceivedAt:     receivedAt,
	}, nil
}

// Reply is a no-op placeholder: web clients receive replies over the
// events WebSocket.
func (w *Web) Reply(_ context.Context, target, text string, _ []string) error {
	w.log.Debug("Reply suppressed, web replies ride the event stream", "target", target, "chars", len(text))
	return nil
}
