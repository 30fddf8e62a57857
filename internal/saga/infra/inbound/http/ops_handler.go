package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	sagaDomain "github.com/davicafu/fulfillment/internal/saga/domain"
	sharedDomain "github.com/davicafu/fulfillment/internal/shared/domain"
	"github.com/davicafu/fulfillment/pkg/utils"
)

const (
	defaultDeadLetterLimit = 20
	maxDeadLetterLimit     = 200
	defaultFailureWindow   = 24 * time.Hour
)

type DeadLetterReader interface {
	Recent(ctx context.Context, limit int) ([]sharedDomain.DeadLetter, error)
}

// OpsHandler agrupa las consultas de operación: mensajes muertos y analítica de fallos.
// stats puede ser nil si no hay ClickHouse configurado.
type OpsHandler struct {
	deadLetters DeadLetterReader
	stats       sagaDomain.FailureStats
	now         func() time.Time
	log         *zap.Logger
}

func NewOpsHandler(deadLetters DeadLetterReader, stats sagaDomain.FailureStats, log *zap.Logger) *OpsHandler {
	return &OpsHandler{deadLetters: deadLetters, stats: stats, now: time.Now, log: log}
}

// ListDeadLetters endpoint GET /dead-letters?limit=N
func (h *OpsHandler) ListDeadLetters(c *gin.Context) {
	limit := defaultDeadLetterLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			utils.SendBadRequest(c, "limit must be a positive integer")
			return
		}
		limit = min(n, maxDeadLetterLimit)
	}

	dls, err := h.deadLetters.Recent(c.Request.Context(), limit)
	if err != nil {
		h.log.Error("Error leyendo dead letters", zap.Error(err))
		utils.SendInternalServerError(c, "internal error")
		return
	}
	if dls == nil {
		dls = []sharedDomain.DeadLetter{}
	}
	utils.SendSuccess(c, http.StatusOK, dls)
}

// FailuresByReason endpoint GET /analytics/failures?window=24h
func (h *OpsHandler) FailuresByReason(c *gin.Context) {
	if h.stats == nil {
		utils.SendServiceUnavailable(c, "analytics not configured")
		return
	}

	window := defaultFailureWindow
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			utils.SendBadRequest(c, "window must be a positive duration")
			return
		}
		window = d
	}

	counts, err := h.stats.FailuresByReason(c.Request.Context(), h.now().Add(-window))
	if err != nil {
		h.log.Error("Error consultando analítica de fallos", zap.Error(err))
		utils.SendInternalServerError(c, "internal error")
		return
	}
	if counts == nil {
		counts = []sagaDomain.FailureCount{}
	}
	utils.SendSuccess(c, http.StatusOK, counts)
}
