package adapter

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rallyhouse/rally/pkg/models"
)

// telegramSecretHeader is set by Telegram when the webhook was registered
// with a secret token.
const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// Telegram handles Telegram bot webhook updates.
type Telegram struct {
	secret string
	log    *slog.Logger
}

// NewTelegram creates a Telegram adapter. An empty secret disables
// signature checking (local development only).
func NewTelegram(secret string) *Telegram {
	return &Telegram{secret: secret, log: slog.With("component", "adapter", "platform", "telegram")}
}

func (t *Telegram) Platform() string { return "telegram" }

// Verify checks the webhook secret token header.
func (t *Telegram) Verify(r *http.Request, _ []byte) error {
	if t.secret == "" {
		return nil
	}
	got := r.Header.Get(telegramSecretHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(t.secret)) != 1 {
		return ErrInvalidSignature
	}
	return nil
}

type telegramUpdate struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		From      *struct {
			ID       int64  `json:"id"`
			Username string `json:"username"`
		} `json:"from"`
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Date    int64  `json:"date"`
		Text    string `json:"text"`
		Caption string `json:"caption"`
		Photo   []struct {
			FileID string `json:"file_id"`
		} `json:"photo"`
	} `json:"message"`
}

// Parse normalizes a Telegram update.
func (t *Telegram) Parse(body []byte, _ http.Header) (models.InboundMessage, error) {
	var u telegramUpdate
	if err := json.Unmarshal(body, &u); err != nil {
		return models.InboundMessage{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if u.Message == nil || u.Message.From == nil {
		return models.InboundMessage{}, fmt.Errorf("%w: update carries no message", ErrMalformedPayload)
	}
	m := u.Message

	text := m.Text
	if text == "" {
		text = m.Caption
	}
	msg := models.InboundMessage{
		SourcePlatform: t.Platform(),
		SourceUserKey:  strconv.FormatInt(m.From.ID, 10),
		RoomKey:        strconv.FormatInt(m.Chat.ID, 10),
		Text:           text,
		RawRef:         strconv.FormatInt(m.MessageID, 10),
		ReceivedAt:     time.Unix(m.Date, 0).UTC(),
	}
	for _, p := range m.Photo {
		msg.Attachments = append(msg.Attachments, p.FileID)
	}
	return msg, nil
}

// Reply is a no-op placeholder: outbound Telegram delivery rides the
// platform sidecar, which is outside this core.
func (t *Telegram) Reply(_ context.Context, target, text string, _ []string) error {
	t.log.Debug("Reply suppressed, no outbound transport", "target", target, "chars", len(text))
	return nil
}
