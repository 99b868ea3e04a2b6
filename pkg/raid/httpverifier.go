package raid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rallyhouse/rally/pkg/config"
	"github.com/rallyhouse/rally/pkg/models"
)

// HTTPVerifier calls the verification sidecar: POST /verify with the claimed
// action, answered with a verdict. The sidecar owns the per-platform lookup
// (checking a retweet exists, a quote mentions the target, and so on); this
// client only speaks the envelope.
type HTTPVerifier struct {
	url    string
	client *http.Client
}

// NewHTTPVerifier creates an HTTPVerifier from config. The client timeout is
// a safety net on top of the per-attempt context the coordinator applies.
func NewHTTPVerifier(cfg config.RaidConfig) *HTTPVerifier {
	return &HTTPVerifier{
		url:    cfg.VerifierURL,
		client: &http.Client{Timeout: cfg.VerifyTimeout},
	}
}

type verifyRequest struct {
	ObjectiveType  string    `json:"objective_type"`
	Target         string    `json:"target"`
	ParticipantRef string    `json:"participant_ref"`
	SubmittedAt    time.Time `json:"submitted_at"`
}

type verifyResponse struct {
	Status         string `json:"status"`
	PointsOverride *int   `json:"points_override,omitempty"`
}

// VerifyAction asks the sidecar whether the claimed action is visible on the
// platform yet.
func (v *HTTPVerifier) VerifyAction(ctx context.Context, objectiveType models.ObjectiveType,
	target, participantRef string, submittedAt time.Time) (Verdict, error) {
	body, err := json.Marshal(verifyRequest{
		ObjectiveType:  string(objectiveType),
		Target:         target,
		ParticipantRef: participantRef,
		SubmittedAt:    submittedAt,
	})
	if err != nil {
		return Verdict{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.url+"/verify", bytes.NewReader(body))
	if err != nil {
		return Verdict{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return Verdict{}, fmt.Errorf("calling verifier: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Verdict{}, fmt.Errorf("verifier returned %d: %s", resp.StatusCode, snippet)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Verdict{}, fmt.Errorf("decoding verifier response: %w", err)
	}

	switch VerdictStatus(out.Status) {
	case VerdictVerified, VerdictNotYet, VerdictRejected:
		return Verdict{Status: VerdictStatus(out.Status), PointsOverride: out.PointsOverride}, nil
	default:
		return Verdict{}, fmt.Errorf("verifier returned unknown status %q", out.Status)
	}
}
