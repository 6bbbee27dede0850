package settlement

import "context"

// MethodCash 結算時一律記為現金付款
const MethodCash = "cash"

// PaymentSubmission 一筆付款
type PaymentSubmission struct {
	RentalID       int    `json:"rental_id"`
	ClientID       int    `json:"client_id"`
	Amount         Amount `json:"amount"`
	Method         string `json:"method"`
	Reference      string `json:"reference"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// PaymentGateway 保存一筆付款，失敗時回傳 *GatewayError
type PaymentGateway interface {
	SubmitPayment(ctx context.Context, sub PaymentSubmission) error
}

// PaymentGatewayFunc 讓一般函式實作 PaymentGateway
type PaymentGatewayFunc func(ctx context.Context, sub PaymentSubmission) error

func (f PaymentGatewayFunc) SubmitPayment(ctx context.Context, sub PaymentSubmission) error {
	return f(ctx, sub)
}

// FinalizationPayload 完成租賃時附帶的評分與備註
type FinalizationPayload struct {
	ClientRating *int    `json:"client_rating"`
	ClientNote   *string `json:"client_note"`
}

// FinalizeFunc 由呼叫端提供，負責把租賃標記為完成
type FinalizeFunc func(ctx context.Context, r Record, p FinalizationPayload) error
