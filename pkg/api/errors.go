package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/rallyhouse/rally/pkg/datastore"
	"github.com/rallyhouse/rally/pkg/engine"
	"github.com/rallyhouse/rally/pkg/identity"
	"github.com/rallyhouse/rally/pkg/raid"
	"github.com/rallyhouse/rally/pkg/rallyerr"
	"github.com/rallyhouse/rally/pkg/session"
)

// mapServiceError lifts service-layer sentinels into coded envelopes. Errors
// that already carry a code pass through.
func mapServiceError(err error) *rallyerr.E {
	var re *rallyerr.E
	if errors.As(err, &re) {
		return re
	}
	switch {
	case errors.Is(err, session.ErrNotFound):
		return rallyerr.New(rallyerr.CodeSessionNotFound, "session not found")
	case errors.Is(err, session.ErrNotActive):
		return rallyerr.New(rallyerr.CodeSessionNotActive, "session is not active")
	case errors.Is(err, raid.ErrNotFound):
		return rallyerr.New(rallyerr.CodeRaidNotFound, "raid not found")
	case errors.Is(err, raid.ErrNotActive):
		return rallyerr.New(rallyerr.CodeRaidNotActive, "raid is not active")
	case errors.Is(err, raid.ErrFull):
		return rallyerr.New(rallyerr.CodeRaidFull, "raid is at max participants")
	case errors.Is(err, raid.ErrAlreadyJoined):
		return rallyerr.New(rallyerr.CodeAlreadyJoined, "participant already joined")
	case errors.Is(err, raid.ErrIdentityMissing):
		return rallyerr.New(rallyerr.CodePlatformIdentityMissing, "platform identity is required")
	case errors.Is(err, raid.ErrUnknownObjective), errors.Is(err, raid.ErrInvalidParams),
		errors.Is(err, raid.ErrActionNotFound):
		return rallyerr.New(rallyerr.CodeInvalidRequest, err.Error())
	case errors.Is(err, identity.ErrConflictingVerification):
		return rallyerr.New(rallyerr.CodeConflictingVerification, "conflicting verified identity")
	case errors.Is(err, engine.ErrQueueFull):
		return rallyerr.New(rallyerr.CodeBackpressureExceeded, "engine queue full")
	case errors.Is(err, datastore.ErrBackpressure):
		return rallyerr.New(rallyerr.CodeBackpressureExceeded, "datastore wait queue full")
	case errors.Is(err, datastore.ErrPoolTimeout), errors.Is(err, datastore.ErrPoolDegraded):
		return rallyerr.New(rallyerr.CodePoolTimeout, "datastore unavailable")
	}
	return rallyerr.New(rallyerr.CodeInternal, "internal server error")
}

// httpStatus maps envelope codes to HTTP statuses.
func httpStatus(code rallyerr.Code) int {
	switch code {
	case rallyerr.CodeInvalidRequest, rallyerr.CodePlatformIdentityMissing:
		return http.StatusBadRequest
	case rallyerr.CodeInvalidSignature:
		return http.StatusUnauthorized
	case rallyerr.CodeBlockedSource:
		return http.StatusForbidden
	case rallyerr.CodeSessionNotFound, rallyerr.CodeRaidNotFound:
		return http.StatusNotFound
	case rallyerr.CodeSessionNotActive, rallyerr.CodeRaidNotActive,
		rallyerr.CodeRaidFull, rallyerr.CodeAlreadyJoined,
		rallyerr.CodeConflictingVerification, rallyerr.CodeDuplicate,
		rallyerr.CodeVerifyNotYet:
		return http.StatusConflict
	case rallyerr.CodeRateLimited:
		return http.StatusTooManyRequests
	case rallyerr.CodeSpamDetected:
		return http.StatusUnprocessableEntity
	case rallyerr.CodeBackpressureExceeded, rallyerr.CodePoolTimeout,
		rallyerr.CodeUpstreamUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// errorHandler is the single place envelopes hit the wire.
func errorHandler(log *slog.Logger) echo.HTTPErrorHandler {
	return func(c *echo.Context, err error) {
		if resp, _ := echo.UnwrapResponse(c.Response()); resp != nil && resp.Committed {
			return
		}

		var he *echo.HTTPError
		if errors.As(err, &he) {
			// Handler-level validation errors stay plain.
			re := rallyerr.Newf(rallyerr.CodeInvalidRequest, "%v", he.Message)
			if he.Code == http.StatusNotFound {
				re = rallyerr.New(rallyerr.CodeSessionNotFound, "not found")
			}
			writeEnvelope(c, he.Code, re, log)
			return
		}

		re := mapServiceError(err)
		if re.Code == rallyerr.CodeInternal {
			log.Error("unhandled error", "path", c.Request().URL.Path, "error", err)
		}
		writeEnvelope(c, httpStatus(re.Code), re, log)
	}
}

func writeEnvelope(c *echo.Context, status int, re *rallyerr.E, log *slog.Logger) {
	if err := c.JSON(status, re); err != nil {
		log.Warn("error response write failed", "error", err)
	}
}
