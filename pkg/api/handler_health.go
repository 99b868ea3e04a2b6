package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// healthHandler handles GET /health. Healthy and degraded both answer 200 so
// orchestrators don't restart a process that is still serving; only
// unhealthy (both pools down) answers 503.
func (s *Server) healthHandler(c *echo.Context) error {
	resp := HealthResponse{Status: "healthy"}

	if s.db != nil {
		h := s.db.Health()
		resp.Status = h.Status
		resp.Pools = h.Pools
	}
	if s.bus != nil {
		resp.Subscribers = s.bus.Subscriptions()
	}

	s.loopMu.RLock()
	if len(s.loops) > 0 {
		resp.Loops = make(map[string]string, len(s.loops))
		for loop, msg := range s.loops {
			resp.Loops[loop] = msg
		}
		if resp.Status == "healthy" {
			resp.Status = "degraded"
		}
	}
	s.loopMu.RUnlock()

	status := http.StatusOK
	if resp.Status == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, resp)
}
