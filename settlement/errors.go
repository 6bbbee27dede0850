package settlement

import (
	"errors"
	"fmt"
)

var (
	ErrNoSelection     = errors.New("no rental selected")
	ErrWrongStep       = errors.New("action not allowed in the current step")
	ErrSubmitting      = errors.New("a payment is already being submitted")
	ErrFinalizeBlocked = errors.New("rental cannot be finalized before the balance is settled")
	ErrNoFinalizer     = errors.New("no finalizer configured")
)

// 驗證訊息
const (
	MsgAmountNotPositive      = "amount must be positive"
	MsgAmountExceedsRemaining = "amount exceeds remaining balance"
	MsgClientNotFound         = "client not found"
	MsgRatingOutOfRange       = "rating must be between 0 and 5"
	MsgPaymentFailed          = "payment could not be recorded"
)

// ValidationError 本地驗證失敗，不會呼叫任何外部服務
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// GatewayError 付款服務回報的失敗
type GatewayError struct {
	Message     string
	FieldErrors map[string][]string
	StatusCode  int
	// Temporary 表示可重試（連線錯誤或 5xx），欄位錯誤一律為 false
	Temporary bool
	Err       error
}

func (e *GatewayError) Error() string {
	return e.Summary()
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Summary 依序取 message、amount、client_id、rental_id 的第一個訊息，都沒有時用通用訊息
func (e *GatewayError) Summary() string {
	if e.Message != "" {
		return e.Message
	}
	for _, field := range []string{"amount", "client_id", "rental_id"} {
		if msgs := e.FieldErrors[field]; len(msgs) > 0 && msgs[0] != "" {
			return msgs[0]
		}
	}
	return MsgPaymentFailed
}

// FieldError 建立單一欄位的 GatewayError
func FieldError(field, message string) *GatewayError {
	return &GatewayError{FieldErrors: map[string][]string{field: {message}}}
}

// AsGatewayError 把任意錯誤轉成 GatewayError，保留原始錯誤鏈
func AsGatewayError(err error) *GatewayError {
	if err == nil {
		return nil
	}
	var gerr *GatewayError
	if errors.As(err, &gerr) {
		return gerr
	}
	return &GatewayError{Err: fmt.Errorf("submit payment: %w", err)}
}

// IsTemporary 是否值得重試
func IsTemporary(err error) bool {
	var gerr *GatewayError
	return errors.As(err, &gerr) && gerr.Temporary
}
