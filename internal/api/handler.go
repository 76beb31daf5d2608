// Package api exposes read-only HTTP endpoints over the detection state.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/Wayy-Research/wrdata/internal/detector"
	domrepo "github.com/Wayy-Research/wrdata/internal/domain/repository"
	"github.com/Wayy-Research/wrdata/internal/service/ratelimit"
	xhttp "github.com/Wayy-Research/wrdata/pkg/http"
	xlogger "github.com/Wayy-Research/wrdata/pkg/logger"
)

// Handler serves detector statistics and stored whale events.
type Handler struct {
	logger *xlogger.Logger
	det    *detector.Detector
	store  domrepo.Storage    // nil when no clickhouse backend
	cache  domrepo.AlertCache // nil when caching disabled
	rl     *ratelimit.Limiter
}

func NewHandler(logger *xlogger.Logger, det *detector.Detector, store domrepo.Storage, cache domrepo.AlertCache) *Handler {
	return &Handler{logger: logger.Named("api"), det: det, store: store, cache: cache, rl: ratelimit.New()}
}

func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)
	g := e.Group("/api/v1")
	g.GET("/stats", h.AllStats)
	g.GET("/stats/:symbol", h.Stats)
	g.GET("/stats/:symbol/threshold", h.Threshold)
	g.GET("/whales/:symbol", h.RecentWhales)
	g.GET("/whales/:symbol/latest", h.LatestWhale)
}

// Health reports process liveness plus storage reachability.
func (h *Handler) Health(c echo.Context) error {
	out := map[string]string{"status": "ok"}
	if h.store != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.store.Health(ctx); err != nil {
			out["status"] = "degraded"
			out["storage"] = err.Error()
			return c.JSON(http.StatusServiceUnavailable, out)
		}
		out["storage"] = "ok"
	}
	return c.JSON(http.StatusOK, out)
}

// AllStats returns the rolling window statistics of every tracked symbol.
func (h *Handler) AllStats(c echo.Context) error {
	return xhttp.SuccessResponse(c, h.det.AllStatistics())
}

// Stats returns the rolling window statistics of one symbol.
func (h *Handler) Stats(c echo.Context) error {
	symbol := c.Param("symbol")
	stats, ok := h.det.Statistics(symbol)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("symbol not tracked: %s", symbol))
	}
	return xhttp.SuccessResponse(c, stats)
}

// Threshold returns the minimum volume a trade needs to reach the requested
// percentile in the symbol's current window.
func (h *Handler) Threshold(c echo.Context) error {
	symbol := c.Param("symbol")
	p := xhttp.ParseFloatDefault(c.QueryParam("percentile"), 99)
	if p <= 0 || p > 100 {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("percentile must be in (0, 100]"))
	}

	vol, ok := h.det.ThresholdVolume(symbol, p)
	if !ok {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("not enough data for symbol: %s", symbol))
	}
	return xhttp.SuccessResponse(c, map[string]interface{}{
		"symbol":     symbol,
		"percentile": p,
		"volume":     vol,
	})
}

// whalesQuery is the validated query surface of the whales list endpoint.
type whalesQuery struct {
	Limit int `query:"limit" default:"100" validate:"gte=1,lte=1000"`
}

// RecentWhales returns the newest stored whale events for a symbol.
func (h *Handler) RecentWhales(c echo.Context) error {
	if h.store == nil {
		return xhttp.AppErrorResponse(c, xhttp.NotFoundError("whale storage not configured"))
	}
	if !h.rl.Allow(c.RealIP()+":whales", 10, 5) {
		return xhttp.DataResponse(c, http.StatusTooManyRequests, "rate limited")
	}
	symbol := c.Param("symbol")
	q := new(whalesQuery)
	if verrs := xhttp.ReadAndValidateRequest(c, q); verrs != nil {
		return xhttp.BadRequestResponse(c, verrs)
	}

	evs, err := h.store.RecentWhales(c.Request().Context(), symbol, q.Limit)
	if err != nil {
		h.logger.Error("recent whales query failed",
			xlogger.String("symbol", symbol),
			xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("whale query failed").WithError(err))
	}
	return xhttp.ListResponse(c, evs, int64(len(evs)))
}

// LatestWhale returns the most recent whale alert for a symbol from the
// cache, falling back to storage when the cache has expired.
func (h *Handler) LatestWhale(c echo.Context) error {
	symbol := c.Param("symbol")

	if h.cache != nil {
		payload, ok, err := h.cache.Latest(c.Request().Context(), symbol)
		if err != nil {
			h.logger.Warn("alert cache read failed",
				xlogger.String("symbol", symbol),
				xlogger.Error(err))
		} else if ok {
			return xhttp.SuccessResponse(c, json.RawMessage(payload))
		}
	}

	if h.store != nil {
		evs, err := h.store.RecentWhales(c.Request().Context(), symbol, 1)
		if err != nil {
			h.logger.Error("latest whale query failed",
				xlogger.String("symbol", symbol),
				xlogger.Error(err))
			return xhttp.InternalServerErrorResponse(c)
		}
		if len(evs) > 0 {
			return xhttp.SuccessResponse(c, evs[0])
		}
	}
	return xhttp.AppErrorResponse(c, xhttp.NotFoundErrorf("no whale alerts for symbol: %s", symbol))
}
