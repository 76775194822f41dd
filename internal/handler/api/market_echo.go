package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/victorescoto/fiap-ml-finance/internal/domain/models"
	"github.com/victorescoto/fiap-ml-finance/internal/service/ratelimit"
	xhttp "github.com/victorescoto/fiap-ml-finance/pkg/http"
	xlogger "github.com/victorescoto/fiap-ml-finance/pkg/logger"
)

// MarketService is the read side behind the HTTP surface.
type MarketService interface {
	Symbols() []string
	GetLatest(ctx context.Context, symbol string, interval models.Interval, limit int) ([]models.Candle, error)
	Predict(ctx context.Context, symbol string) (models.Prediction, error)
}

// MarketEchoHandler serves health, symbols, latest candles and predictions.
type MarketEchoHandler struct {
	logger  *xlogger.Logger
	svc     MarketService
	limiter *ratelimit.Limiter
}

var _ xhttp.Handler = (*MarketEchoHandler)(nil)

// NewMarketEchoHandler builds the handler. limiter may be nil to disable rate limiting.
func NewMarketEchoHandler(logger *xlogger.Logger, svc MarketService, limiter *ratelimit.Limiter) *MarketEchoHandler {
	if logger == nil {
		logger = xlogger.NewNop()
	}
	return &MarketEchoHandler{logger: logger, svc: svc, limiter: limiter}
}

func (h *MarketEchoHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)
	e.GET("/symbols", h.Symbols)
	e.GET("/latest", h.Latest)
	e.POST("/predict", h.Predict)
}

func (h *MarketEchoHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, models.HealthResponse{Status: "ok"})
}

func (h *MarketEchoHandler) Symbols(c echo.Context) error {
	return c.JSON(http.StatusOK, models.SymbolsResponse{Symbols: h.svc.Symbols()})
}

func (h *MarketEchoHandler) Latest(c echo.Context) error {
	req := &models.LatestRequest{}
	if verr := xhttp.ReadAndValidateQuery(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	rows, err := h.svc.GetLatest(c.Request().Context(), req.Symbol, models.Interval(req.Interval), req.Limit)
	if err != nil {
		return h.fail(c, "failed to fetch latest", err)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=15")
	return c.JSON(http.StatusOK, models.LatestResponse{
		Symbol:   req.Symbol,
		Interval: req.Interval,
		Candles:  models.NewCandleDTOs(rows),
	})
}

func (h *MarketEchoHandler) Predict(c echo.Context) error {
	if h.limiter != nil && !h.limiter.Allow(c.RealIP()) {
		return xhttp.AppErrorResponse(c, xhttp.TooManyRequestsError("too many prediction requests"))
	}
	req := &models.PredictRequest{}
	if verr := xhttp.ReadAndValidateQuery(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}

	p, err := h.svc.Predict(c.Request().Context(), req.Symbol)
	if err != nil {
		return h.fail(c, "failed to predict", err)
	}
	return c.JSON(http.StatusOK, models.NewPredictResponse(p))
}

// fail maps domain errors: caller mistakes are 400, everything else is a 500 with a message.
func (h *MarketEchoHandler) fail(c echo.Context, msg string, err error) error {
	switch {
	case errors.Is(err, models.ErrSymbolNotAllowed):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("symbol not allowed").WithError(err))
	case errors.Is(err, models.ErrInvalidInterval):
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("interval not supported").WithError(err))
	}
	h.logger.Error(msg,
		xlogger.String("path", c.Path()),
		xlogger.String("query", c.QueryString()),
		xlogger.Error(err),
	)
	return xhttp.AppErrorResponse(c, xhttp.InternalErrorf("%s: %v", msg, err).WithError(err))
}
