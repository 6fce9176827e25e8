package handler

import (
	"stk-push-gateway/internal/adapter/http/dto"
	"stk-push-gateway/internal/adapter/http/middleware"
	"stk-push-gateway/internal/core/domain"
	"stk-push-gateway/internal/core/ports"
	"stk-push-gateway/pkg/apperror"
	"stk-push-gateway/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// HeaderIdempotencyKey lets callers retry a push without sending a second prompt.
const HeaderIdempotencyKey = "Idempotency-Key"

// PaymentHandler handles push initiation and status endpoints.
type PaymentHandler struct {
	paymentSvc ports.PaymentService
	statusSvc  ports.StatusService
}

// NewPaymentHandler creates a new PaymentHandler.
func NewPaymentHandler(paymentSvc ports.PaymentService, statusSvc ports.StatusService) *PaymentHandler {
	return &PaymentHandler{paymentSvc: paymentSvc, statusSvc: statusSvc}
}

// Push handles POST /payments/push.
func (h *PaymentHandler) Push(c *gin.Context) {
	var req dto.PushRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, dto.BindingError(err))
		return
	}
	dto.SanitizeStruct(&req)

	var idemKey string
	if key := c.GetHeader(HeaderIdempotencyKey); key != "" {
		if !dto.ValidIdempotencyKey(key) {
			response.Error(c, apperror.Validation("invalid Idempotency-Key header"))
			return
		}
		idemKey = scopeKey(middleware.Subject(c), key)
	}

	result, err := h.paymentSvc.Initiate(c.Request.Context(), ports.PushInput{
		PhoneNumber:    req.PhoneNumber,
		Amount:         req.Amount,
		Purpose:        domain.Purpose(req.Purpose),
		Description:    req.Description,
		IdempotencyKey: idemKey,
	})
	if err != nil {
		response.Error(c, err)
		return
	}

	c.Set(middleware.CtxResourceID, result.TransactionID.String())
	response.Accepted(c, dto.NewPushResponse(result))
}

// Status handles GET /payments/status/:id. It reads the store only.
func (h *PaymentHandler) Status(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	tx, err := h.paymentSvc.GetTransaction(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewStatusResponse(tx))
}

// Query handles POST /payments/status/:id/query: asks the provider and reconciles.
func (h *PaymentHandler) Query(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	tx, err := h.statusSvc.Reconcile(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dto.NewStatusResponse(tx))
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, apperror.ErrNotFound("Transaction"))
		return uuid.Nil, false
	}
	return id, true
}

// scopeKey keeps callers from replaying each other's results.
func scopeKey(subject, key string) string {
	if subject == "" {
		subject = "anonymous"
	}
	return subject + ":" + key
}
