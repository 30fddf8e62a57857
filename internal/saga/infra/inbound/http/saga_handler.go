package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	orderDomain "github.com/davicafu/fulfillment/internal/order/domain"
	sagaDomain "github.com/davicafu/fulfillment/internal/saga/domain"
	"github.com/davicafu/fulfillment/internal/shared/infra/resilience"
	"github.com/davicafu/fulfillment/pkg/utils"
)

type FulfillmentStarter interface {
	StartFulfillment(ctx context.Context, customerID string, lines []orderDomain.Line) (*orderDomain.Order, error)
}

type Queries interface {
	GetOrder(ctx context.Context, id uuid.UUID) (*orderDomain.Order, error)
	GetSaga(ctx context.Context, id uuid.UUID) (*sagaDomain.Saga, error)
}

type BreakerLister interface {
	Statuses() []resilience.Status
}

// SagaHandler expone la entrada de pedidos y las consultas de operador.
type SagaHandler struct {
	starter  FulfillmentStarter
	queries  Queries
	breakers BreakerLister
	log      *zap.Logger
}

func NewSagaHandler(starter FulfillmentStarter, queries Queries, breakers BreakerLister, log *zap.Logger) *SagaHandler {
	return &SagaHandler{starter: starter, queries: queries, breakers: breakers, log: log}
}

type lineRequest struct {
	ProductID string          `json:"productId" binding:"required"`
	Quantity  int             `json:"quantity" binding:"required"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
}

type placeOrderRequest struct {
	CustomerID string        `json:"customerId" binding:"required"`
	Lines      []lineRequest `json:"lines" binding:"required,min=1,dive"`
}

type placeOrderResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Total   string `json:"total"`
}

type sagaResponse struct {
	CorrelationID string                     `json:"correlationId"`
	State         sagaDomain.State           `json:"state"`
	Steps         []sagaDomain.CompletedStep `json:"steps"`
	FailureReason string                     `json:"failureReason,omitempty"`
	DeadlineAt    time.Time                  `json:"deadlineAt"`
	Version       int64                      `json:"version"`
	Terminal      bool                       `json:"terminal"`
}

// PlaceOrder endpoint POST /orders
func (h *SagaHandler) PlaceOrder(c *gin.Context) {
	var req placeOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	lines := make([]orderDomain.Line, 0, len(req.Lines))
	for _, l := range req.Lines {
		lines = append(lines, orderDomain.Line{ProductID: l.ProductID, Quantity: l.Quantity, UnitPrice: l.UnitPrice})
	}

	order, err := h.starter.StartFulfillment(c.Request.Context(), req.CustomerID, lines)
	if err != nil {
		h.sendError(c, err)
		return
	}

	utils.SendSuccess(c, http.StatusCreated, placeOrderResponse{
		OrderID: order.ID.String(),
		Status:  string(order.Status),
		Total:   order.Total.StringFixed(2),
	})
}

// GetOrder endpoint GET /orders/:id
func (h *SagaHandler) GetOrder(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid order id")
		return
	}

	order, err := h.queries.GetOrder(c.Request.Context(), id)
	if err != nil {
		h.sendError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, order)
}

// GetSaga endpoint GET /sagas/:id
func (h *SagaHandler) GetSaga(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid saga id")
		return
	}

	saga, err := h.queries.GetSaga(c.Request.Context(), id)
	if err != nil {
		h.sendError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, sagaResponse{
		CorrelationID: saga.CorrelationID.String(),
		State:         saga.State,
		Steps:         saga.Steps,
		FailureReason: saga.FailureReason,
		DeadlineAt:    saga.DeadlineAt,
		Version:       saga.Version,
		Terminal:      saga.State.Terminal(),
	})
}

// ListBreakers endpoint GET /breakers
func (h *SagaHandler) ListBreakers(c *gin.Context) {
	utils.SendSuccess(c, http.StatusOK, h.breakers.Statuses())
}

func (h *SagaHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *SagaHandler) sendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, orderDomain.ErrInvalidOrder):
		utils.SendUnprocessable(c, err.Error())
	case errors.Is(err, orderDomain.ErrOrderNotFound):
		utils.SendNotFound(c, "order not found")
	case errors.Is(err, sagaDomain.ErrSagaNotFound):
		utils.SendNotFound(c, "saga not found")
	default:
		h.log.Error("Error interno en petición HTTP", zap.String("path", c.FullPath()), zap.Error(err))
		utils.SendInternalServerError(c, "internal error")
	}
}
