package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Payment 一筆入帳紀錄
type Payment struct {
	PaymentID      int             `json:"payment_id" gorm:"primaryKey;autoIncrement"`
	RentID         int             `json:"rent_id" gorm:"index;not null"`
	ClientID       int             `json:"client_id" gorm:"index;not null"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:decimal(12,2);not null"`
	Method         string          `json:"method" gorm:"size:20;not null;default:cash"`
	Reference      string          `json:"reference" gorm:"size:100"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty" gorm:"size:64;uniqueIndex"` // 同一個 key 只入帳一次
	PaidAt         time.Time       `json:"paid_at" gorm:"not null"`
	CreatedAt      time.Time       `json:"created_at"`
	Rent           Rent            `json:"-" gorm:"foreignKey:RentID;references:RentID"`
}

func (Payment) TableName() string {
	return "payment"
}
