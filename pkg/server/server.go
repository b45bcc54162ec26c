// Package server exposes the agent to the editor plugin over a local HTTP
// API: autonomous runs, direct chat with SSE text relay, and session
// listing.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/nvimtools/copilot-agent/pkg/copilot"
	"github.com/nvimtools/copilot-agent/pkg/runtime"
	"github.com/nvimtools/copilot-agent/pkg/session"
)

type Server struct {
	e        *echo.Echo
	runtime  *runtime.Runtime
	sessions session.Store
}

func New(rt *runtime.Runtime, sessions session.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		e:        e,
		runtime:  rt,
		sessions: sessions,
	}

	group := e.Group("/api")

	// Run the autonomous loop for a tool call.
	group.POST("/agent", s.runAgent)
	// Direct chat; streams text deltas as SSE.
	group.POST("/chat", s.chat)

	group.GET("/sessions", s.getSessions)
	group.GET("/sessions/:id", s.getSession)
	group.DELETE("/sessions/:id", s.deleteSession)

	group.GET("/ping", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	return s
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	slog.Info("Agent API listening", "addr", ln.Addr().String())

	srv := &http.Server{Handler: s.e}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-groupCtx.Done()
		return srv.Shutdown(context.Background())
	})
	return group.Wait()
}

func (s *Server) runAgent(c echo.Context) error {
	var call runtime.AgentCall
	if err := json.NewDecoder(c.Request().Body).Decode(&call); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.runtime.ExecuteAutonomously(c.Request().Context(), call)
	if err != nil {
		return agentError(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"request_id": result.RequestID,
		"stopped":    result.Stopped,
		"iterations": result.Iterations,
		"text":       result.Text(),
		"segments":   result.Segments,
		"actions":    result.Actions,
	})
}

// chat relays a direct message, forwarding the reply as SSE text deltas and
// a final "done" event carrying the request id.
func (s *Server) chat(c echo.Context) error {
	var msg runtime.DirectMessage
	if err := json.NewDecoder(c.Request().Body).Decode(&msg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	result, err := s.runtime.SendDirectMessage(c.Request().Context(), msg)
	if err != nil {
		return agentError(err)
	}

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set("Cache-Control", "no-cache")
	resp.WriteHeader(http.StatusOK)

	if err := writeSSE(resp, "text", map[string]string{"content": result.Text()}); err != nil {
		return err
	}
	return writeSSE(resp, "done", map[string]string{"request_id": result.RequestID})
}

func writeSSE(resp *echo.Response, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(resp, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	resp.Flush()
	return nil
}

func (s *Server) getSessions(c echo.Context) error {
	summaries, err := s.sessions.GetSessionSummaries(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if summaries == nil {
		summaries = []session.Summary{}
	}
	return c.JSON(http.StatusOK, summaries)
}

func (s *Server) getSession(c echo.Context) error {
	sess, err := s.sessions.GetSession(c.Request().Context(), c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sess)
}

func (s *Server) deleteSession(c echo.Context) error {
	err := s.sessions.DeleteSession(c.Request().Context(), c.Param("id"))
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// agentError maps runtime failures onto HTTP statuses: provider permission
// and not-found problems keep their meaning, everything else is a 502.
func agentError(err error) error {
	var reqErr *copilot.RequestError
	if errors.As(err, &reqErr) {
		switch reqErr.Kind {
		case copilot.RequestErrorPermission:
			return echo.NewHTTPError(http.StatusForbidden, reqErr.Error())
		case copilot.RequestErrorNotFound:
			return echo.NewHTTPError(http.StatusNotFound, reqErr.Error())
		}
		return echo.NewHTTPError(http.StatusBadGateway, reqErr.Error())
	}
	if errors.Is(err, runtime.ErrNoTool) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
