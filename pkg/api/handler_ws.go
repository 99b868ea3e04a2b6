package api

import (
	"github.com/coder/websocket"
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

// wsHandler handles GET /ws/events: upgrade, then delegate to the read
// loop. A connection may authenticate up front with a bearer or query
// token; otherwise its first message must be an auth op before any
// subscribe is accepted.
func (s *Server) wsHandler(c *echo.Context) error {
	client, authed := s.authenticate(c.Request())

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	w := &wsConn{
		id:     uuid.New().String(),
		conn:   conn,
		authed: authed,
		client: client,
		subs:   make(map[string]bool),
	}
	s.runWS(c.Request().Context(), w)
	return nil
}
