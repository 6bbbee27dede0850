package models

import (
	"strings"
	"time"

	"fleetrent/settlement"

	"github.com/shopspring/decimal"
)

// 租賃狀態
const (
	RentStatusReserved   = "reserved"
	RentStatusInProgress = "in_progress"
	RentStatusCompleted  = "completed"
	RentStatusCanceled   = "canceled"
)

type Rent struct {
	RentID          int             `json:"rent_id" gorm:"primaryKey;autoIncrement"`                             // 租賃ID
	ClientID        int             `json:"client_id" gorm:"index;not null"`                                     // 客戶ID
	LicensePlate    string          `json:"license_plate" gorm:"size:20;index;not null"`                         // 車牌
	StartTime       time.Time       `json:"start_time" gorm:"not null"`                                          // 開始時間
	EndTime         time.Time       `json:"end_time" gorm:"not null"`                                            // 預計歸還時間
	ActualEndTime   *time.Time      `json:"actual_end_time" gorm:"default:null"`                                 // 實際歸還時間
	Status          string          `json:"status" gorm:"size:20;index;not null;default:in_progress"`            // 租賃狀態
	TotalAmount     decimal.Decimal `json:"total_amount" gorm:"type:decimal(12,2);not null;default:0"`           // 應付總額
	PaidAmount      decimal.Decimal `json:"paid_amount" gorm:"type:decimal(12,2);not null;default:0"`            // 已付金額
	RemainingAmount decimal.Decimal `json:"reste_a_payer" gorm:"type:decimal(12,2);not null;default:0"`          // 剩餘應付（快取）
	PaymentStatus   string          `json:"payment_status" gorm:"size:20;not null;default:unpaid"`               // 付款狀態
	ClientRating    *int            `json:"client_rating" gorm:"default:null"`                                   // 客戶評分 1-5
	ClientNote      *string         `json:"client_note" gorm:"type:text"`                                        // 客戶備註
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	Client          Client          `json:"-" gorm:"foreignKey:ClientID;references:ClientID"`
	Vehicle         Vehicle         `json:"-" gorm:"foreignKey:LicensePlate;references:LicensePlate"`
}

// IsActive 只有進行中的租賃可以收款與完成
func (r *Rent) IsActive() bool {
	return r.Status == RentStatusInProgress
}

// SyncPaymentState 依 total 與 paid 重算剩餘金額與付款狀態，回傳是否有變動
func (r *Rent) SyncPaymentState() bool {
	remaining := decimal.Max(r.TotalAmount.Sub(r.PaidAmount), decimal.Zero)

	status := settlement.PaymentStatusUnpaid
	switch {
	case remaining.IsZero():
		status = settlement.PaymentStatusPaid
	case r.PaidAmount.IsPositive():
		status = settlement.PaymentStatusPartial
	}

	changed := !remaining.Equal(r.RemainingAmount) || !strings.EqualFold(status, r.PaymentStatus)
	r.RemainingAmount = remaining
	r.PaymentStatus = status
	return changed
}

// ToRecord 轉成結算引擎使用的資料
func (r *Rent) ToRecord() settlement.Record {
	return settlement.Record{
		ID:              r.RentID,
		Status:          r.Status,
		TotalAmount:     settlement.AmountOf(r.TotalAmount),
		PaidAmount:      settlement.AmountOf(r.PaidAmount),
		CachedRemaining: settlement.AmountOf(r.RemainingAmount),
		PaymentStatus:   r.PaymentStatus,
		Client:          &settlement.ClientRef{ID: r.ClientID},
		ClientID:        r.ClientID,
	}
}

type RentResponse struct {
	RentID        int                 `json:"rent_id"`
	ClientID      int                 `json:"client_id"`
	LicensePlate  string              `json:"license_plate"`
	StartTime     time.Time           `json:"start_time"`
	EndTime       time.Time           `json:"end_time"`
	ActualEndTime *time.Time          `json:"actual_end_time"`
	Status        string              `json:"status"`
	PaymentStatus string              `json:"payment_status"`
	ClientRating  *int                `json:"client_rating"`
	ClientNote    *string             `json:"client_note"`
	Summary       settlement.Summary  `json:"summary"`
	Decision      settlement.Decision `json:"decision"`
}

// ToResponse 回應內附帶付款摘要與是否需先結清
func (r *Rent) ToResponse(policy settlement.DuePolicy) RentResponse {
	record := r.ToRecord()
	return RentResponse{
		RentID:        r.RentID,
		ClientID:      r.ClientID,
		LicensePlate:  r.LicensePlate,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		ActualEndTime: r.ActualEndTime,
		Status:        r.Status,
		PaymentStatus: r.PaymentStatus,
		ClientRating:  r.ClientRating,
		ClientNote:    r.ClientNote,
		Summary:       settlement.Summarize(record),
		Decision:      policy.Evaluate(record),
	}
}
