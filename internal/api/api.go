// Package api exposes the HTTP intake surface: bug reports come in,
// get validated and persisted, and are acknowledged immediately while
// the pipeline runs detached.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/patchlane/patchlane/internal/pipeline"
	"github.com/patchlane/patchlane/internal/storage"
	"github.com/patchlane/patchlane/internal/types"
)

// Intake accepts a validated bug report and starts its pipeline.
type Intake interface {
	Submit(ctx context.Context, params pipeline.NewIssueParams) (*types.Issue, error)
}

// Server is the intake HTTP server.
type Server struct {
	echo   *echo.Echo
	store  storage.Store
	intake Intake
	log    zerolog.Logger
}

// Config holds server configuration.
type Config struct {
	Logger zerolog.Logger
}

// NewServer wires routes, validation, and error handling.
func NewServer(store storage.Store, intake Intake, cfg Config) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = newRequestValidator()
	e.HTTPErrorHandler = errorHandler(cfg.Logger)
	e.Use(echomw.Recover())

	s := &Server{echo: e, store: store, intake: intake, log: cfg.Logger}

	e.GET("/healthz", s.health)
	e.POST("/issues", s.createIssue)
	e.GET("/issues", s.listIssues)
	e.GET("/issues/stats", s.statistics)
	e.GET("/issues/:id", s.getIssue)

	return s
}

// Handler returns the underlying HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start(addr string) error {
	s.log.Info().Str("addr", addr).Msg("intake server starting")
	if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("intake server: %w", err)
	}
	return nil
}

// Shutdown drains the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

type createIssueRequest struct {
	Title       string `json:"title" validate:"required,max=300"`
	Description string `json:"description" validate:"required"`
	ReproSteps  string `json:"repro_steps"`
	Severity    string `json:"severity" validate:"required,oneof=critical high medium low"`
	RepoURL     string `json:"repo_url" validate:"required"`
}

type issueResponse struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Description   string   `json:"description"`
	ReproSteps    string   `json:"repro_steps,omitempty"`
	Severity      string   `json:"severity"`
	RepoURL       string   `json:"repo_url"`
	Status        string   `json:"status"`
	AIDecision    string   `json:"ai_decision,omitempty"`
	AIReason      string   `json:"ai_reason,omitempty"`
	BranchName    string   `json:"branch_name,omitempty"`
	PRURL         string   `json:"pr_url,omitempty"`
	PRMerged      bool     `json:"pr_merged"`
	ChangeSummary string   `json:"change_summary,omitempty"`
	Logs          []string `json:"logs,omitempty"`
	CreatedAt     string   `json:"created_at"`
	UpdatedAt     string   `json:"updated_at"`
}

func renderIssue(issue *types.Issue) issueResponse {
	return issueResponse{
		ID:            issue.ID,
		Title:         issue.Title,
		Description:   issue.Description,
		ReproSteps:    issue.ReproSteps,
		Severity:      string(issue.Severity),
		RepoURL:       issue.RepoURL,
		Status:        string(issue.Status),
		AIDecision:    string(issue.AIDecision),
		AIReason:      issue.AIReason,
		BranchName:    issue.BranchName,
		PRURL:         issue.PRURL,
		PRMerged:      issue.PRMerged,
		ChangeSummary: issue.ChangeSummary,
		Logs:          issue.Logs,
		CreatedAt:     issue.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:     issue.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// createIssue acknowledges the report as soon as it is persisted; the
// pipeline continues independently of this request's lifetime.
func (s *Server) createIssue(c echo.Context) error {
	var req createIssueRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "request body is not valid JSON")
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	issue, err := s.intake.Submit(c.Request().Context(), pipeline.NewIssueParams{
		Title:       req.Title,
		Description: req.Description,
		ReproSteps:  req.ReproSteps,
		Severity:    types.Severity(req.Severity),
		RepoURL:     req.RepoURL,
	})
	if err != nil {
		return fmt.Errorf("submit issue: %w", err)
	}

	s.log.Info().Str("issue", issue.ID).Str("severity", req.Severity).Msg("issue accepted")
	return c.JSON(http.StatusAccepted, envelope{Data: renderIssue(issue)})
}

func (s *Server) getIssue(c echo.Context) error {
	issue, err := s.store.GetIssue(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, envelope{Data: renderIssue(issue)})
}

func (s *Server) listIssues(c echo.Context) error {
	issues, err := s.store.ListIssues(c.Request().Context())
	if err != nil {
		return err
	}
	out := make([]issueResponse, 0, len(issues))
	for _, issue := range issues {
		out = append(out, renderIssue(issue))
	}
	return c.JSON(http.StatusOK, envelope{Data: out})
}

func (s *Server) statistics(c echo.Context) error {
	stats, err := s.store.Statistics(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, envelope{Data: stats})
}

// envelope is the standard response wrapper.
type envelope struct {
	Data  any       `json:"data,omitempty"`
	Error *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// requestValidator adapts go-playground/validator to echo.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	return &requestValidator{validate: validator.New()}
}

func (v *requestValidator) Validate(i any) error {
	if err := v.validate.Struct(i); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			fe := fieldErrs[0]
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("field %s failed on '%s' validation", fe.Field(), fe.Tag()))
		}
		return echo.NewHTTPError(http.StatusBadRequest, "request validation failed")
	}
	return nil
}

// statusCode renders an HTTP status as a snake_case machine code, e.g.
// 400 → "bad_request", matching the hand-assigned codes elsewhere.
func statusCode(code int) string {
	text := http.StatusText(code)
	if text == "" {
		return "error"
	}
	return strings.ToLower(strings.ReplaceAll(text, " ", "_"))
}

func errorHandler(log zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		apiErr := apiError{Code: "internal_error", Message: "an unexpected error occurred"}

		var echoErr *echo.HTTPError
		switch {
		case errors.As(err, &echoErr):
			status = echoErr.Code
			apiErr.Code = statusCode(echoErr.Code)
			if msg, ok := echoErr.Message.(string); ok && msg != "" {
				apiErr.Message = msg
			} else {
				apiErr.Message = http.StatusText(echoErr.Code)
			}
		case errors.Is(err, storage.ErrNotFound):
			status = http.StatusNotFound
			apiErr = apiError{Code: "not_found", Message: "no such issue"}
		default:
			log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("unhandled request error")
		}

		if jsonErr := c.JSON(status, envelope{Error: &apiErr}); jsonErr != nil {
			log.Error().Err(jsonErr).Msg("failed to write error response")
		}
	}
}
