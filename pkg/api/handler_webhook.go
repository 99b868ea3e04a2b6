package api

import (
	"io"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// maxWebhookBody bounds a single webhook delivery.
const maxWebhookBody = 1 << 20

// webhookHandler handles POST /webhooks/:platform. The pipeline owns all
// policy decisions; this handler only reads the body and translates the
// result.
func (s *Server) webhookHandler(c *echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "reading request body failed")
	}

	res, err := s.pipeline.Process(c.Request().Context(), c.Param("platform"), c.RealIP(), c.Request(), body)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, WebhookResponse{
		TraceID: res.TraceID.String(),
		Outcome: res.Outcome,
	})
}
