package control

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/watchparty/internal/middleware"
	"github.com/nfrund/watchparty/internal/websocket"
)

// connectRequest is the query of a control connection. Older players send
// the room as movieId.
type connectRequest struct {
	Room    string `query:"watchPartyId" validate:"required_without=MovieID,max=128"`
	MovieID string `query:"movieId" validate:"max=128"`
	UserID  string `query:"userId" validate:"max=128"`
}

func (r connectRequest) room() string {
	if r.Room != "" {
		return r.Room
	}
	return r.MovieID
}

// Handler holds dependencies for the control module's HTTP handlers.
type Handler struct {
	hub    *Hub
	accept websocket.AcceptOptions
}

// NewHandler creates a new control handler.
func NewHandler(h *Hub, accept websocket.AcceptOptions) *Handler {
	return &Handler{hub: h, accept: accept}
}

// ServeWS upgrades the request and runs the connection until it closes.
func (h *Handler) ServeWS(c echo.Context) error {
	var req connectRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request format.")
	}
	if id, ok := middleware.IdentityFrom(c); ok {
		req.UserID = id.UserID
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), h.accept)
	if err != nil {
		middleware.FromContext(c.Request().Context()).Error("Failed to upgrade WebSocket connection", "error", err)
		return nil
	}
	defer conn.Close("")

	h.hub.Serve(c.Request().Context(), conn, req.room(), req.UserID)
	return nil
}
