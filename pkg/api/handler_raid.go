package api

import (
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/rallyhouse/rally/pkg/models"
	"github.com/rallyhouse/rally/pkg/raid"
)

// createRaidHandler handles POST /api/v1/raids.
func (s *Server) createRaidHandler(c *echo.Context) error {
	var req CreateRaidRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.AgentID == "" || req.RoomID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "agent_id and room_id are required")
	}

	objectives := make([]models.Objective, 0, len(req.Objectives))
	for _, o := range req.Objectives {
		objectives = append(objectives, models.Objective{
			Type:            models.ObjectiveType(o.Type),
			Target:          o.Target,
			RequiredCount:   o.RequiredCount,
			PointsPerAction: o.PointsPerAction,
		})
	}

	sess, err := s.raids.Create(c.Request().Context(), raid.CreateParams{
		AgentID:         req.AgentID,
		RoomID:          req.RoomID,
		TargetRef:       req.TargetRef,
		Objectives:      objectives,
		MaxParticipants: req.MaxParticipants,
		Duration:        time.Duration(req.DurationMS) * time.Millisecond,
		AutoStart:       req.AutoStart,
		Metadata:        req.Metadata,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, sess)
}

// joinRaidHandler handles POST /api/v1/raids/:id/join.
func (s *Server) joinRaidHandler(c *echo.Context) error {
	var req JoinRaidRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	p, err := s.raids.Join(c.Request().Context(), c.Param("id"), raid.JoinParams{
		ParticipantID: req.ParticipantID,
		PlatformID:    req.PlatformID,
		DisplayName:   req.DisplayName,
		SecondaryID:   req.SecondaryID,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, p)
}

// recordActionHandler handles POST /api/v1/raids/:id/actions.
func (s *Server) recordActionHandler(c *echo.Context) error {
	var req RecordActionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := s.raids.RecordAction(c.Request().Context(), c.Param("id"), raid.ActionParams{
		ParticipantID: req.ParticipantID,
		ObjectiveType: models.ObjectiveType(req.ObjectiveType),
		Target:        req.Target,
		Proof:         req.Proof,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusAccepted, a)
}

// getRaidHandler handles GET /api/v1/raids/:id.
func (s *Server) getRaidHandler(c *echo.Context) error {
	r, err := s.raids.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, r)
}

// leaderboardHandler handles GET /api/v1/raids/:id/leaderboard.
func (s *Server) leaderboardHandler(c *echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = n
	}
	entries, err := s.raids.Leaderboard(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, LeaderboardResponse{RaidID: c.Param("id"), Entries: entries})
}

// raidMetricsHandler handles GET /api/v1/raids/:id/metrics.
func (s *Server) raidMetricsHandler(c *echo.Context) error {
	m, err := s.raids.Metrics(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, m)
}

// completeRaidHandler handles POST /api/v1/raids/:id/complete.
func (s *Server) completeRaidHandler(c *echo.Context) error {
	reason := c.QueryParam("reason")
	if reason == "" {
		reason = "completed via api"
	}
	if err := s.raids.Complete(c.Request().Context(), c.Param("id"), reason); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
