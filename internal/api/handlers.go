package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yourorg/payment-flow/internal/block"
	"github.com/yourorg/payment-flow/internal/decision"
	"github.com/yourorg/payment-flow/internal/monitor"
	"github.com/yourorg/payment-flow/internal/payment"
	"github.com/yourorg/payment-flow/internal/saga"
	"github.com/yourorg/payment-flow/internal/storage"
)

type createPaymentMethodRequest struct {
	PaymentAttemptID string `json:"payment_attempt_id"`
	Confirmable      bool   `json:"confirmable"`
}

type operationRequest struct {
	Args map[string]any `json:"args"`
}

type paymentMethodResponse struct {
	PaymentMethod *payment.PaymentMethod  `json:"payment_method"`
	Eligible      []payment.OperationType `json:"eligible"`
}

// readValidated reads the body and checks it against cm. It writes a 400 and
// returns false when the body is malformed or violates the schema.
func readValidated(c *gin.Context, cm *monitor.ContractMonitor, emptyAs string) ([]byte, bool) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return nil, false
	}
	if len(body) == 0 && emptyAs != "" {
		body = []byte(emptyAs)
	}
	valid, violations, err := cm.Validate(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return nil, false
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": monitor.FormatErrors(violations)})
		return nil, false
	}
	return body, true
}

func (h *Handler) createPaymentMethod(c *gin.Context) {
	body, ok := readValidated(c, h.create, "")
	if !ok {
		return
	}
	var req createPaymentMethodRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	pm, err := h.saga.CreatePaymentMethod(c.Request.Context(), payment.PaymentMethodDraft{
		PaymentAttemptID: req.PaymentAttemptID,
		Confirmable:      req.Confirmable,
	})
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusCreated, paymentMethodResponse{PaymentMethod: pm, Eligible: decision.Eligible(pm)})
}

func (h *Handler) getPaymentMethod(c *gin.Context) {
	pm, ok := h.load(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, paymentMethodResponse{PaymentMethod: pm, Eligible: decision.Eligible(pm)})
}

func (h *Handler) getReport(c *gin.Context) {
	pm, ok := h.load(c)
	if !ok {
		return
	}
	events, err := h.saga.BlockEvents(c.Request.Context(), pm.ID)
	if err != nil {
		h.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.reporter.GenerateRetrospective(pm, events))
}

func (h *Handler) executeOperation(c *gin.Context) {
	op, err := payment.ParseOperationType(c.Param("operation"))
	if err != nil || !saga.IsPublic(op) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported operation: " + c.Param("operation")})
		return
	}
	body, ok := readValidated(c, h.operation, "{}")
	if !ok {
		return
	}
	var req operationRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request format: " + err.Error()})
		return
	}

	resp, err := h.saga.Execute(c.Request.Context(), op, c.Param("id"), block.Args(req.Args))
	switch {
	case errors.Is(err, storage.ErrDuplicate), errors.Is(err, saga.ErrPaymentMethodBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case err != nil:
		h.internalError(c, err)
	default:
		c.JSON(http.StatusOK, resp)
	}
}

func (h *Handler) load(c *gin.Context) (*payment.PaymentMethod, bool) {
	pm, err := h.saga.PaymentMethod(c.Request.Context(), c.Param("id"))
	if errors.Is(err, storage.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "payment method not found"})
		return nil, false
	}
	if err != nil {
		h.internalError(c, err)
		return nil, false
	}
	return pm, true
}

func (h *Handler) internalError(c *gin.Context, err error) {
	h.log.Error().Err(err).Str("path", c.FullPath()).Str("payment_method_id", c.Param("id")).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
