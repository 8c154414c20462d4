package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/leanscribe/internal/accounting"
	"github.com/leanscribe/internal/app"
	"github.com/leanscribe/internal/config"
	"github.com/leanscribe/internal/editor"
	"github.com/leanscribe/internal/orchestrator"
	"github.com/leanscribe/internal/prompts"
)

type documentRequest struct {
	Path string `json:"path"`
	// Text replaces the file content, for unsaved buffers.
	Text      *string       `json:"text,omitempty"`
	Cursor    string        `json:"cursor,omitempty"` // line:character
	Selection *editor.Range `json:"selection,omitempty"`
}

func (d *documentRequest) open() (*editor.Document, error) {
	if d == nil || d.Path == "" {
		return nil, nil
	}
	pos, err := editor.ParsePosition(d.Cursor)
	if err != nil {
		return nil, err
	}
	doc, err := editor.Open(d.Path, pos, d.Selection)
	if err != nil {
		return nil, err
	}
	if d.Text != nil {
		doc.Text = *d.Text
	}
	return doc, nil
}

type renderRequest struct {
	Template string           `json:"template"`
	From     string           `json:"from,omitempty"`
	Document *documentRequest `json:"document,omitempty"`
	Extra    map[string]any   `json:"extra,omitempty"`
	Full     bool             `json:"full,omitempty"`
	FollowUp bool             `json:"follow_up,omitempty"`
}

type runRequest struct {
	Model    string                 `json:"model"`
	Prompt   prompts.RenderedPrompt `json:"prompt"`
	Template string                 `json:"template,omitempty"`
	// Document is the context of the template's post-process step.
	Document *documentRequest `json:"document,omitempty"`
}

type reportRequest struct {
	Prompt prompts.RenderedPrompt `json:"prompt"`
	Full   bool                   `json:"full,omitempty"`
}

func errorJSON(c echo.Context, status int, err error) error {
	return c.JSON(status, map[string]string{"error": err.Error()})
}

// statusFor maps configuration errors to client errors.
func statusFor(err error) int {
	switch {
	case errors.Is(err, prompts.ErrTemplateNotFound):
		return http.StatusNotFound
	case errors.Is(err, accounting.ErrUnknownModel):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// GET /api/v1/prompts?q=...&limit=...
func (s *Server) searchPrompts(c echo.Context) error {
	limit := prompts.DefaultSearchLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return errorJSON(c, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
		}
		limit = n
	}
	results := s.svc.Search(c.QueryParam("q"), limit)
	if results == nil {
		results = []*prompts.Template{}
	}
	return c.JSON(http.StatusOK, map[string]any{"prompts": results})
}

// POST /api/v1/render
func (s *Server) renderPrompt(c echo.Context) error {
	var req renderRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	if req.Template == "" {
		return errorJSON(c, http.StatusBadRequest, errors.New("template is required"))
	}
	doc, err := req.Document.open()
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}

	rendered, err := s.svc.Render(c.Request().Context(), app.RenderRequest{
		TemplateID: req.Template,
		From:       req.From,
		Document:   doc,
		Extra:      req.Extra,
		Full:       req.Full,
		FollowUp:   req.FollowUp,
	})
	if err != nil {
		return errorJSON(c, statusFor(err), err)
	}
	return c.JSON(http.StatusOK, rendered)
}

// POST /api/v1/report
func (s *Server) reportPrompt(c echo.Context) error {
	var req reportRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	return c.JSON(http.StatusOK, s.svc.Estimate(req.Prompt, req.Full))
}

// POST /api/v1/run streams orchestrator events as server-sent events.
func (s *Server) runPrompt(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}
	var tmpl *prompts.Template
	if req.Template != "" {
		t, err := s.svc.Template(req.Template)
		if err != nil {
			return errorJSON(c, statusFor(err), err)
		}
		tmpl = t
	}
	doc, err := req.Document.open()
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err)
	}

	w := c.Response()
	sink := &sseSink{resp: w}
	_, err = s.svc.Run(c.Request().Context(), app.RunRequest{
		Model:    req.Model,
		Prompt:   req.Prompt,
		Template: tmpl,
		Document: doc,
	}, sink)
	if err != nil {
		if !sink.started {
			return errorJSON(c, statusFor(err), err)
		}
		log.Warn().Err(err).Msg("Run failed after the stream started")
	}
	return nil
}

// POST /api/v1/refresh
func (s *Server) refresh(c echo.Context) error {
	if err := s.svc.Reload(c.Request().Context()); err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "reloaded"})
}

// GET /api/v1/history
func (s *Server) getHistory(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{"history": s.svc.History()})
}

// GET /api/v1/models?full=true
func (s *Server) getModels(c echo.Context) error {
	full, _ := strconv.ParseBool(c.QueryParam("full"))
	models := s.svc.Models(full)
	if models == nil {
		models = []config.ModelDescriptor{}
	}
	return c.JSON(http.StatusOK, map[string]any{"models": models})
}

// GET /api/v1/system
func (s *Server) getSystem(c echo.Context) error {
	report, err := s.svc.SystemReport(c.Request().Context())
	if err != nil {
		return errorJSON(c, http.StatusInternalServerError, err)
	}
	return c.JSON(http.StatusOK, map[string]any{
		"facts":    report.Facts,
		"markdown": report.Markdown(),
	})
}

// sseSink writes each event as "event: <type>\ndata: <json>\n\n".
type sseSink struct {
	resp    *echo.Response
	started bool
}

func (s *sseSink) EmitEvent(ctx context.Context, e *orchestrator.Event) error {
	if !s.started {
		h := s.resp.Header()
		h.Set(echo.HeaderContentType, "text/event-stream")
		h.Set(echo.HeaderCacheControl, "no-cache")
		h.Set(echo.HeaderConnection, "keep-alive")
		s.resp.WriteHeader(http.StatusOK)
		s.started = true
	}
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.resp, "event: %s\ndata: %s\n\n", e.Type, data); err != nil {
		return err
	}
	s.resp.Flush()
	return nil
}
