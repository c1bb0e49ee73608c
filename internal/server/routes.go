package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

type healthResponse struct {
	Status  string   `json:"status"`
	Modules []string `json:"modules"`
}

// RegisterRoutes mounts the routes that belong to no module: liveness and
// the prometheus scrape endpoint.
func (s *Server) RegisterRoutes() {
	s.E.GET("/health", s.health)
	s.E.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))
}

func (s *Server) health(c echo.Context) error {
	names := make([]string, 0, len(s.modules))
	for _, m := range s.modules {
		names = append(names, m.Name())
	}
	return c.JSON(http.StatusOK, healthResponse{Status: "ok", Modules: names})
}
