package api

import (
	"errors"
	"time"

	"MarketPulse/internal/domain/errs"
	models "MarketPulse/internal/domain/models"
	domrepo "MarketPulse/internal/domain/repository"
	"MarketPulse/internal/usecase"
	xhttp "MarketPulse/pkg/http"
	xlogger "MarketPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

// MarketEchoHandler exposes the read-side HTTP API: market data, watches, and
// aggregated component stats.
type MarketEchoHandler struct {
	logger *xlogger.Logger
	query  *usecase.MarketQuery
	stats  *usecase.SystemStats
}

func NewMarketEchoHandler(logger *xlogger.Logger, query *usecase.MarketQuery, stats *usecase.SystemStats) *MarketEchoHandler {
	return &MarketEchoHandler{logger: logger, query: query, stats: stats}
}

func (h *MarketEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api")
	g.GET("/candles", h.Candles)
	g.GET("/ticker", h.Ticker)
	g.GET("/watches", h.Watches)
	g.GET("/stats", h.Stats)
}

func (h *MarketEchoHandler) Health(c echo.Context) error {
	return xhttp.SuccessResponse(c, map[string]string{"status": "ok"})
}

func (h *MarketEchoHandler) Candles(c echo.Context) error {
	req := &models.CandlesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	var from, to time.Time
	if req.From != "" {
		v, ok := xhttp.ParseTime(req.From)
		if !ok {
			return xhttp.BadRequestResponse(c, xhttp.BadRequestErrorf("invalid from %q", req.From))
		}
		from = v
	}
	if req.To != "" {
		v, ok := xhttp.ParseTime(req.To)
		if !ok {
			return xhttp.BadRequestResponse(c, xhttp.BadRequestErrorf("invalid to %q", req.To))
		}
		to = v
	}

	res, err := h.query.GetCandles(c.Request().Context(), usecase.GetCandlesParams{
		Symbol:   req.Symbol,
		Interval: domrepo.NormalizeInterval(req.Interval),
		Limit:    req.Limit,
		From:     from,
		To:       to,
	})
	if err != nil {
		return h.mapError(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *MarketEchoHandler) Ticker(c echo.Context) error {
	req := &models.TickerRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	res, err := h.query.GetTicker(c.Request().Context(), req.Symbol)
	if err != nil {
		return h.mapError(c, err)
	}
	return xhttp.SuccessResponse(c, res)
}

func (h *MarketEchoHandler) Watches(c echo.Context) error {
	req := &models.WatchesRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	limit := xhttp.ParseIntDefault(c.QueryParam("limit"), 0)
	return xhttp.SuccessResponse(c, h.query.ListWatches(c.Request().Context(), req.Symbol, req.Interval, limit))
}

func (h *MarketEchoHandler) Stats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.stats.Snapshot())
}

func (h *MarketEchoHandler) mapError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return xhttp.BadRequestResponse(c, xhttp.BadRequestError(err.Error()))
	case errors.Is(err, errs.ErrNotFound):
		return xhttp.NotFoundResponse(c, xhttp.NotFoundError(err.Error()))
	default:
		h.logger.Error("query error", xlogger.Error(err))
		return xhttp.AppErrorResponse(c, err)
	}
}
