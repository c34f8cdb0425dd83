// Package httpapi exposes the plate service over HTTP using echo.
package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"platecore/internal/blob"
	"platecore/internal/core"
	"platecore/pkg/domain"
)

// Options configures the router.
type Options struct {
	Logger zerolog.Logger
	// Gatherer backs /metrics; nil selects the default registry.
	Gatherer prometheus.Gatherer
}

// Server handles the REST routes of the plate service.
type Server struct {
	svc    *core.Service
	logger zerolog.Logger
}

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Code       int                `json:"code"`
	Message    string             `json:"message"`
	Violations []domain.Violation `json:"violations,omitempty"`
}

// NewRouter builds the echo instance serving the API, /health and /metrics.
func NewRouter(svc *core.Service, opts Options) *echo.Echo {
	s := &Server{svc: svc, logger: opts.Logger}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.handleError
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			ev := s.logger.Debug()
			if v.Error != nil {
				ev = s.logger.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).Str("uri", v.URI).Int("status", v.Status).Dur("latency", v.Latency).Msg("request")
			return nil
		},
	}))

	e.GET("/health", func(c echo.Context) error {
		return c.String(http.StatusOK, "Healthy")
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	api := e.Group("/api/v1")
	api.GET("/plates", s.ListPlates)
	api.POST("/plates", s.CreatePlate)
	api.GET("/plates/:plate", s.GetPlate)
	api.DELETE("/plates/:plate", s.DeletePlate)
	api.GET("/plates/:plate/free", s.FreeWells)
	api.GET("/plates/:plate/wells/:well", s.GetWell)
	api.GET("/plates/:plate/wells/:well/summary", s.WellSummary)
	api.GET("/plates/:plate/wells/:well/lineage", s.WellLineage)
	api.POST("/plates/:plate/wells/:well/empty", s.EmptyWell)
	api.POST("/dispenses", s.Dispense)
	api.POST("/picklists", s.ExecutePicklist)
	api.GET("/runs", s.ListRuns)
	api.GET("/runs/:id", s.GetRun)
	api.POST("/runs/:id/report", s.ExportRunReport)
	api.GET("/plugins", s.ListPlugins)
	return e
}

// CreatePlateRequest describes a plate by explicit dimensions or by a
// standard well count.
type CreatePlateRequest struct {
	domain.PlateSpec
	Wells int `json:"wells,omitempty"`
}

// PicklistRequest is the JSON body of POST /picklists.
type PicklistRequest struct {
	Policy   domain.Policy            `json:"policy"`
	Requests []domain.TransferRequest `json:"requests"`
}

// RunResponse pairs a run with the rule outcome of its transaction.
type RunResponse struct {
	Run    domain.Run    `json:"run"`
	Result domain.Result `json:"result"`
}

// ListPlates handles GET /api/v1/plates.
func (s *Server) ListPlates(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.ListPlates())
}

// CreatePlate handles POST /api/v1/plates.
func (s *Server) CreatePlate(c echo.Context) error {
	var req CreatePlateRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("Invalid request body")
	}
	spec := req.PlateSpec
	if req.Wells > 0 {
		std, err := domain.StandardSpec(spec.Name, req.Wells, spec.WellCapacity)
		if err != nil {
			return badRequest(err.Error())
		}
		spec.Rows, spec.Columns = std.Rows, std.Columns
	}
	snap, _, err := s.svc.CreatePlate(c.Request().Context(), spec)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, snap)
}

// GetPlate handles GET /api/v1/plates/:plate.
func (s *Server) GetPlate(c echo.Context) error {
	snap, err := s.svc.GetPlate(c.Param("plate"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

// DeletePlate handles DELETE /api/v1/plates/:plate.
func (s *Server) DeletePlate(c echo.Context) error {
	if _, err := s.svc.DeletePlate(c.Request().Context(), c.Param("plate")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// FreeWells handles GET /api/v1/plates/:plate/free?direction=row|column.
func (s *Server) FreeWells(c echo.Context) error {
	direction := domain.Direction(c.QueryParam("direction"))
	switch direction {
	case "":
		direction = domain.DirectionRow
	case domain.DirectionRow, domain.DirectionColumn:
	default:
		return badRequest("direction must be row or column")
	}
	names, err := s.svc.FreeWells(c.Request().Context(), c.Param("plate"), direction)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"wells": names})
}

// GetWell handles GET /api/v1/plates/:plate/wells/:well.
func (s *Server) GetWell(c echo.Context) error {
	snap, err := s.svc.GetWell(c.Request().Context(), c.Param("plate"), c.Param("well"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

// WellSummary handles GET /api/v1/plates/:plate/wells/:well/summary.
func (s *Server) WellSummary(c echo.Context) error {
	out, err := s.svc.WellSummary(c.Request().Context(), c.Param("plate"), c.Param("well"))
	if err != nil {
		return err
	}
	return c.String(http.StatusOK, out)
}

// WellLineage handles GET /api/v1/plates/:plate/wells/:well/lineage.
func (s *Server) WellLineage(c echo.Context) error {
	refs, err := s.svc.WellLineage(c.Request().Context(), c.Param("plate"), c.Param("well"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"sources": refs})
}

// EmptyWell handles POST /api/v1/plates/:plate/wells/:well/empty.
func (s *Server) EmptyWell(c echo.Context) error {
	if _, err := s.svc.EmptyWell(c.Request().Context(), c.Param("plate"), c.Param("well")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// Dispense handles POST /api/v1/dispenses.
func (s *Server) Dispense(c echo.Context) error {
	var req domain.TransferRequest
	if err := c.Bind(&req); err != nil {
		return badRequest("Invalid request body")
	}
	if !req.IsDispense() {
		return badRequest("dispense requests take source_label, not source_plate")
	}
	snap, _, err := s.svc.Dispense(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

// ExecutePicklist handles POST /api/v1/picklists. A text/csv body is read as
// an Echo-style picklist with the policy taken from the query string.
func (s *Server) ExecutePicklist(c echo.Context) error {
	var req PicklistRequest
	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), "text/csv") {
		requests, err := domain.ParseTransferRequestsCSV(c.Request().Body)
		if err != nil {
			return badRequest(err.Error())
		}
		req.Requests = requests
		req.Policy = domain.Policy(c.QueryParam("policy"))
	} else if err := c.Bind(&req); err != nil {
		return badRequest("Invalid request body")
	}
	policy, err := domain.ParsePolicy(string(req.Policy))
	if err != nil {
		return badRequest(err.Error())
	}
	run, res, err := s.svc.ExecutePicklist(c.Request().Context(), policy, req.Requests)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, RunResponse{Run: run, Result: res})
}

// ListRuns handles GET /api/v1/runs.
func (s *Server) ListRuns(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.ListRuns())
}

// GetRun handles GET /api/v1/runs/:id.
func (s *Server) GetRun(c echo.Context) error {
	run, err := s.svc.GetRun(c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, run)
}

// ExportRunReport handles POST /api/v1/runs/:id/report.
func (s *Server) ExportRunReport(c echo.Context) error {
	infos, err := s.svc.ExportRunReport(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, map[string]any{"objects": infos})
}

// ListPlugins handles GET /api/v1/plugins.
func (s *Server) ListPlugins(c echo.Context) error {
	return c.JSON(http.StatusOK, s.svc.RegisteredPlugins())
}

func badRequest(msg string) error {
	return echo.NewHTTPError(http.StatusBadRequest, msg)
}

// handleError maps service errors onto status codes.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	resp := ErrorResponse{Code: http.StatusInternalServerError, Message: err.Error()}
	var (
		httpErr   *echo.HTTPError
		notFound  domain.ErrNotFound
		violation domain.RuleViolationError
	)
	switch {
	case errors.As(err, &httpErr):
		resp.Code = httpErr.Code
		if msg, ok := httpErr.Message.(string); ok {
			resp.Message = msg
		}
	case errors.As(err, &notFound):
		resp.Code = http.StatusNotFound
	case errors.As(err, &violation):
		resp.Code = http.StatusUnprocessableEntity
		resp.Violations = violation.Result.Violations
	case errors.Is(err, domain.ErrTransfer):
		resp.Code = http.StatusConflict
	case errors.Is(err, domain.ErrConflict), errors.Is(err, blob.ErrExists):
		resp.Code = http.StatusConflict
	case errors.Is(err, domain.ErrInvalid):
		resp.Code = http.StatusBadRequest
	default:
		s.logger.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	}
	if err := c.JSON(resp.Code, resp); err != nil {
		s.logger.Error().Err(err).Msg("write error response")
	}
}
