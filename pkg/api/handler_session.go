package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"

	"github.com/rallyhouse/rally/pkg/models"
	"github.com/rallyhouse/rally/pkg/session"
)

// createSessionHandler handles POST /api/v1/sessions.
func (s *Server) createSessionHandler(c *echo.Context) error {
	var req CreateSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AgentID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id is required")
	}
	if req.RoomID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "room_id is required")
	}

	kind := models.SessionKind(req.Kind)
	if req.Kind == "" {
		kind = models.KindConversation
	}
	if !kind.Valid() || kind == models.KindRaid {
		return echo.NewHTTPError(http.StatusBadRequest, "kind must be conversation or community")
	}
	policy := models.RenewalPolicy(req.RenewalPolicy)
	if req.RenewalPolicy == "" {
		policy = models.RenewOnActivity
	}
	if !policy.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid renewal_policy")
	}

	sess, err := s.sessions.Create(c.Request().Context(), session.CreateParams{
		AgentID:       req.AgentID,
		UserID:        req.UserID,
		RoomID:        req.RoomID,
		Kind:          kind,
		TimeoutMS:     req.TimeoutMS,
		RenewalPolicy: policy,
		Metadata:      req.Metadata,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sess)
}

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	sess, err := s.sessions.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sess)
}

// endSessionHandler handles DELETE /api/v1/sessions/:id.
func (s *Server) endSessionHandler(c *echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	reason := c.QueryParam("reason")
	if reason == "" {
		reason = "ended via api"
	}
	if err := s.sessions.End(c.Request().Context(), id, models.SessionCompleted, reason); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// renewSessionHandler handles POST /api/v1/sessions/:id/renew.
func (s *Server) renewSessionHandler(c *echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	var req RenewSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.ExtraMS <= 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "extra_ms must be positive")
	}
	expiresAt, err := s.sessions.Renew(c.Request().Context(), id, time.Duration(req.ExtraMS)*time.Millisecond)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, RenewResponse{ExpiresAt: expiresAt})
}

// heartbeatHandler handles POST /api/v1/sessions/:id/heartbeat.
func (s *Server) heartbeatHandler(c *echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	if err := s.sessions.Heartbeat(c.Request().Context(), id); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// postMessageHandler handles POST /api/v1/sessions/:id/messages. The message
// skips webhook-level policy and goes straight to classification and
// routing; the engine's reply arrives on the session's event topic.
func (s *Server) postMessageHandler(c *echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	var req PostMessageRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.UserKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "user_key is required")
	}

	sess, err := s.sessions.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}
	// Expired sessions stop taking messages at the deadline, not at the
	// next sweep.
	if sess.EffectiveState(time.Now().UTC()) != models.SessionActive {
		return session.ErrNotActive
	}

	ref := req.MessageRef
	if ref == "" {
		ref = uuid.New().String()
	}
	res, err := s.pipeline.Inject(c.Request().Context(), sess, models.InboundMessage{
		SourcePlatform: "web",
		SourceUserKey:  req.UserKey,
		RoomKey:        sess.RoomID,
		Text:           req.Text,
		Attachments:    req.Attachments,
		RawRef:         ref,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, PostMessageResponse{
		TraceID:  res.TraceID.String(),
		Outcome:  res.Outcome,
		Category: string(res.Category),
		Reply:    res.Reply,
	})
}

// listMessagesHandler handles GET /api/v1/sessions/:id/messages with cursor
// pagination. The cursor is the created_at of the last returned item.
func (s *Server) listMessagesHandler(c *echo.Context) error {
	id, err := sessionID(c)
	if err != nil {
		return err
	}
	if s.messages == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "message history not available")
	}

	sess, err := s.sessions.Get(c.Request().Context(), id)
	if err != nil {
		return err
	}

	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	var before time.Time
	if v := c.QueryParam("cursor"); v != "" {
		before, err = time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "cursor must be RFC3339")
		}
	}

	items, err := s.messages.List(c.Request().Context(), sess.RoomID, before, limit)
	if err != nil {
		return err
	}
	resp := MessagesResponse{Messages: items}
	if len(items) == limit {
		resp.NextCursor = items[len(items)-1].CreatedAt.Format(time.RFC3339Nano)
	}
	return c.JSON(http.StatusOK, resp)
}

func sessionID(c *echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "session id must be a uuid")
	}
	return id, nil
}
