package settlement

import "github.com/shopspring/decimal"

// Summary 付款摘要
type Summary struct {
	Total     decimal.Decimal `json:"total"`
	Paid      decimal.Decimal `json:"paid"`
	Remaining decimal.Decimal `json:"remaining"`
}

// Summarize 計算 total、paid、remaining
// remaining 優先使用快取的 reste_a_payer，否則為 total - paid，兩者都不低於 0
func Summarize(r Record) Summary {
	total := r.TotalAmount.OrZero()
	paid := r.PaidAmount.OrZero()

	remaining := decimal.Max(total.Sub(paid), decimal.Zero)
	if r.CachedRemaining.Valid {
		remaining = decimal.Max(r.CachedRemaining.Value, decimal.Zero)
	}

	return Summary{Total: total, Paid: paid, Remaining: remaining}
}
