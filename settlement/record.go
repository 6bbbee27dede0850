package settlement

import (
	"sync"

	"github.com/shopspring/decimal"
)

// 付款狀態
const (
	PaymentStatusPaid    = "paid"
	PaymentStatusPartial = "partial"
	PaymentStatusDue     = "due"
	PaymentStatusUnpaid  = "unpaid"
)

// ClientRef 巢狀的客戶參照
type ClientRef struct {
	ID int `json:"id"`
}

// Record 結算引擎所需的租賃資料
type Record struct {
	ID              int        `json:"id"`
	Status          string     `json:"status"`
	TotalAmount     Amount     `json:"total_amount"`
	PaidAmount      Amount     `json:"paid_amount"`
	CachedRemaining Amount     `json:"reste_a_payer"`
	PaymentStatus   string     `json:"payment_status"`
	HasPaymentDue   *bool      `json:"has_payment_due,omitempty"`
	Client          *ClientRef `json:"client,omitempty"`
	ClientID        int        `json:"client_id,omitempty"`
}

// ClientRefID 先看 client.id，再看 client_id
func (r Record) ClientRefID() (int, bool) {
	if r.Client != nil && r.Client.ID > 0 {
		return r.Client.ID, true
	}
	if r.ClientID > 0 {
		return r.ClientID, true
	}
	return 0, false
}

// Patch 付款成功後套用到租賃資料的樂觀更新
type Patch struct {
	Paid          decimal.Decimal
	Remaining     decimal.Decimal
	PaymentStatus string
}

// PatchAfterPayment paid += amount，remaining = max(total - paid, 0)
func PatchAfterPayment(r Record, amount decimal.Decimal) Patch {
	s := Summarize(r)
	paid := s.Paid.Add(amount)
	remaining := decimal.Max(s.Total.Sub(paid), decimal.Zero)
	status := PaymentStatusPartial
	if remaining.IsZero() {
		status = PaymentStatusPaid
	}
	return Patch{Paid: paid, Remaining: remaining, PaymentStatus: status}
}

// WithPatch 回傳套用 patch 後的副本，快取的 reste_a_payer 與 has_payment_due 一併更新
func (r Record) WithPatch(p Patch) Record {
	due := p.Remaining.IsPositive()
	r.PaidAmount = AmountOf(p.Paid)
	r.CachedRemaining = AmountOf(p.Remaining)
	r.PaymentStatus = p.PaymentStatus
	r.HasPaymentDue = &due
	return r
}

// RecordList 呼叫端持有的租賃清單
type RecordList interface {
	ApplyPatch(rentalID int, p Patch)
}

// Records 併發安全的租賃清單
type Records struct {
	mu    sync.Mutex
	items []Record
}

func NewRecords(items ...Record) *Records {
	return &Records{items: append([]Record(nil), items...)}
}

// ApplyPatch 更新指定 ID 的租賃，不存在則忽略
func (l *Records) ApplyPatch(rentalID int, p Patch) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.items {
		if l.items[i].ID == rentalID {
			l.items[i] = l.items[i].WithPatch(p)
		}
	}
}

// Get 依 ID 取得租賃
func (l *Records) Get(rentalID int) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.items {
		if r.ID == rentalID {
			return r, true
		}
	}
	return Record{}, false
}

// Remove 完成後從進行中清單移除
func (l *Records) Remove(rentalID int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, r := range l.items {
		if r.ID == rentalID {
			l.items = append(l.items[:i], l.items[i+1:]...)
			return true
		}
	}
	return false
}

// All 回傳清單副本
func (l *Records) All() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Record(nil), l.items...)
}
