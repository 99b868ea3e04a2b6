// Package rallyerr defines the wire-level error taxonomy. Services declare
// plain sentinel errors; the HTTP and WebSocket layers map them to an E in
// exactly one place before anything leaves the process.
package rallyerr

import "fmt"

// Code is a stable, client-facing error code.
type Code string

// Invalid-input codes. Surfaced to the caller, never retried by the core.
const (
	CodeInvalidRequest          Code = "InvalidRequest"
	CodeSessionNotFound         Code = "SessionNotFound"
	CodeSessionNotActive        Code = "SessionNotActive"
	CodeRaidNotFound            Code = "RaidNotFound"
	CodeRaidNotActive           Code = "RaidNotActive"
	CodeRaidFull                Code = "RaidFull"
	CodeAlreadyJoined           Code = "AlreadyJoined"
	CodePlatformIdentityMissing Code = "PlatformIdentityMissing"
	CodeConflictingVerification Code = "ConflictingVerification"
)

// Policy-rejection codes. Returned to the ingress adapter; no downstream
// effects.
const (
	CodeRateLimited      Code = "RateLimited"
	CodeInvalidSignature Code = "InvalidSignature"
	CodeBlockedSource    Code = "BlockedSource"
	CodeDuplicate        Code = "Duplicate"
	CodeSpamDetected     Code = "SpamDetected"
)

// Transient codes. Clients should retry with a small delay.
const (
	CodeBackpressureExceeded Code = "BackpressureExceeded"
	CodePoolTimeout          Code = "PoolTimeout"
	CodeUpstreamUnavailable  Code = "UpstreamUnavailable"
	CodeVerifyNotYet         Code = "VerifyNotYet"
)

// Internal fallback.
const CodeInternal Code = "Internal"

// E is the error envelope every client-visible failure carries.
type E struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retriable bool   `json:"retriable"`

	// RetryAfterMS accompanies RateLimited so well-behaved clients back
	// off for the right amount of time.
	RetryAfterMS int64 `json:"retry_after_ms,omitempty"`
}

// Error implements the error interface.
func (e *E) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// New builds an E. Retriability is derived from the code.
func New(code Code, message string) *E {
	return &E{Code: code, Message: message, Retriable: Retriable(code)}
}

// Newf builds an E with a formatted message.
func Newf(code Code, format string, args ...any) *E {
	return New(code, fmt.Sprintf(format, args...))
}

// Retriable reports whether clients are expected to retry the code.
func Retriable(code Code) bool {
	switch code {
	case CodeBackpressureExceeded, CodePoolTimeout, CodeUpstreamUnavailable,
		CodeVerifyNotYet, CodeRateLimited:
		return true
	}
	return false
}
