package handlers

import (
	"net/http"

	"fleetrent/services"
	"fleetrent/settlement"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type PaymentHandler struct {
	payments *services.PaymentService
	log      logrus.FieldLogger
}

func NewPaymentHandler(payments *services.PaymentService, log logrus.FieldLogger) *PaymentHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PaymentHandler{payments: payments, log: log}
}

// CreatePayment 入帳一筆付款，欄位錯誤回 422
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	var input settlement.PaymentSubmission
	if err := c.ShouldBindJSON(&input); err != nil {
		h.log.WithError(err).Warn("Invalid payment input")
		ErrorResponse(c, http.StatusBadRequest, "無效的輸入資料", err.Error(), "ERR_INVALID_INPUT")
		return
	}
	if input.Method == "" {
		input.Method = settlement.MethodCash
	}
	if key := c.GetHeader("Idempotency-Key"); input.IdempotencyKey == "" && key != "" {
		input.IdempotencyKey = key
	}

	payment, err := h.payments.Record(c.Request.Context(), input)
	if err != nil {
		writeGatewayError(c, settlement.AsGatewayError(err), nil)
		return
	}
	SuccessResponse(c, http.StatusCreated, "付款成功", payment)
}

// writeGatewayError 依付款服務的錯誤決定 HTTP 狀態碼
func writeGatewayError(c *gin.Context, gerr *settlement.GatewayError, data interface{}) {
	status := gerr.StatusCode
	if status == 0 {
		status = http.StatusBadGateway
	}
	code := "ERR_PAYMENT_FAILED"
	switch {
	case len(gerr.FieldErrors) > 0:
		code = "ERR_VALIDATION"
	case status == http.StatusConflict:
		code = "ERR_CONFLICT"
	}
	FieldErrorResponse(c, status, gerr.Summary(), gerr.FieldErrors, code, data)
}
