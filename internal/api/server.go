// Package api serves sweep progress over HTTP: a JSON surface for
// scripted polling and the embedded dashboard page.
package api

import (
	"net/http"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/qsweep/internal/logger"
	"github.com/samcharles93/qsweep/internal/search"
	"github.com/samcharles93/qsweep/internal/version"
	"github.com/samcharles93/qsweep/internal/webui"
)

type Server struct {
	store *Store
	log   logger.Logger
}

func NewServer(store *Store, log logger.Logger) *Server {
	if store == nil {
		store = NewStore()
	}
	if log == nil {
		log = logger.Default()
	}
	return &Server{store: store, log: log}
}

func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/api/studies", s.handleListStudies)
	e.GET("/api/studies/:id", s.handleGetStudy)
	e.GET("/api/studies/:id/trials", s.handleTrials)
	e.GET("/api/studies/:id/best", s.handleBestTrial)
	e.GET("/", s.handleDashboard)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.String(),
	})
}

func (s *Server) handleListStudies(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"studies": s.store.List(),
	})
}

func (s *Server) handleGetStudy(c *echo.Context) error {
	st, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "study not found")
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleTrials(c *echo.Context) error {
	trials, ok := s.store.Trials(c.Param("id"))
	if !ok {
		return writeNotFound(c, "study not found")
	}
	if stateParam := c.QueryParam("state"); stateParam != "" {
		want, err := search.ParseState(stateParam)
		if err != nil {
			return writeBadRequest(c, err.Error())
		}
		filtered := make([]TrialDTO, 0, len(trials))
		for _, t := range trials {
			if t.State == want.String() {
				filtered = append(filtered, t)
			}
		}
		trials = filtered
	}
	return c.JSON(http.StatusOK, map[string]any{
		"trials": trials,
	})
}

func (s *Server) handleBestTrial(c *echo.Context) error {
	st, ok := s.store.Get(c.Param("id"))
	if !ok {
		return writeNotFound(c, "study not found")
	}
	if st.Best == nil {
		return writeNotFound(c, "study has no completed trials")
	}
	return c.JSON(http.StatusOK, st.Best)
}

func (s *Server) handleDashboard(c *echo.Context) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMETextHTMLCharsetUTF8)
	_, err := res.Write(webui.Index())
	return err
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeNotFound(c *echo.Context, msg string) error {
	return writeError(c, http.StatusNotFound, "not_found_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return c.JSON(status, map[string]any{
		"error": ErrorBody{
			Message: msg,
			Type:    errType,
		},
	})
}
