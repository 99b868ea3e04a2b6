// Package engine dispatches composed prompts to the model-engine sidecar
// and post-processes its replies.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rallyhouse/rally/pkg/config"
	"github.com/rallyhouse/rally/pkg/models"
)

// Params are the sampling parameters for one completion. Tagged for YAML
// too since personality documents may override them.
type Params struct {
	Temperature      float64 `json:"temperature" yaml:"temperature"`
	TopP             float64 `json:"top_p" yaml:"top_p"`
	FrequencyPenalty float64 `json:"frequency_penalty" yaml:"frequency_penalty"`
	PresencePenalty  float64 `json:"presence_penalty" yaml:"presence_penalty"`
}

// Turn is one prior exchange in the conversation history.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Hints carry classification context the engine may condition on.
type Hints struct {
	Classification models.Classification `json:"classification"`
	EmotionalState string                `json:"emotional_state,omitempty"`
}

// Request is one completion request to the model engine.
type Request struct {
	SystemPrompt    string   `json:"system_prompt"`
	History         []Turn   `json:"history,omitempty"`
	UserInput       string   `json:"user_input"`
	CapabilityFlags []string `json:"capability_flags,omitempty"`
	Params          Params   `json:"params"`
	Hints           Hints    `json:"hints"`
}

// Response is the engine's answer.
type Response struct {
	Text         string `json:"text"`
	TokensUsed   int    `json:"tokens_used"`
	FinishReason string `json:"finish_reason"`
}

// Engine produces completions.
type Engine interface {
	Complete(ctx context.Context, req Request) (Response, error)
}

// HTTPEngine talks to the model-engine sidecar over HTTP/JSON.
type HTTPEngine struct {
	url    string
	client *http.Client
}

// NewHTTPEngine creates an HTTPEngine from config.
func NewHTTPEngine(cfg config.EngineConfig) *HTTPEngine {
	return &HTTPEngine{
		url:    cfg.URL,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Complete posts the request to /complete, retrying once on a transient
// upstream failure.
func (e *HTTPEngine) Complete(ctx context.Context, req Request) (Response, error) {
	resp, err := e.post(ctx, req)
	if err != nil && transient(err) && ctx.Err() == nil {
		resp, err = e.post(ctx, req)
	}
	return resp, err
}

// transientError marks failures worth one retry.
type transientError struct{ error }

func transient(err error) bool {
	_, ok := err.(transientError)
	return ok
}

func (e *HTTPEngine) post(ctx context.Context, req Request) (Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return Response{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url+"/complete", bytes.NewReader(body))
	if err != nil {
		return Response{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return Response{}, transientError{fmt.Errorf("calling engine: %w", err)}
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, 256))
		err := fmt.Errorf("engine returned %d: %s", httpResp.StatusCode, snippet)
		if httpResp.StatusCode >= 500 {
			return Response{}, transientError{err}
		}
		return Response{}, err
	}

	var out Response
	if err := json.NewDecoder(httpResp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decoding engine response: %w", err)
	}
	return out, nil
}
