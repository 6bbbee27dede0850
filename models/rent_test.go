package models

import (
	"testing"

	"fleetrent/settlement"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestRent_SyncPaymentState(t *testing.T) {
	r := Rent{TotalAmount: decimal.NewFromInt(1000), PaidAmount: decimal.NewFromInt(300)}
	assert.True(t, r.SyncPaymentState())
	assert.True(t, r.RemainingAmount.Equal(decimal.NewFromInt(700)))
	assert.Equal(t, settlement.PaymentStatusPartial, r.PaymentStatus)
	assert.False(t, r.SyncPaymentState())

	r.PaidAmount = decimal.NewFromInt(1000)
	assert.True(t, r.SyncPaymentState())
	assert.True(t, r.RemainingAmount.IsZero())
	assert.Equal(t, settlement.PaymentStatusPaid, r.PaymentStatus)

	unpaid := Rent{TotalAmount: decimal.NewFromInt(50)}
	unpaid.SyncPaymentState()
	assert.Equal(t, settlement.PaymentStatusUnpaid, unpaid.PaymentStatus)
}

func TestRent_ToResponse(t *testing.T) {
	r := Rent{RentID: 3, ClientID: 8, Status: RentStatusInProgress, TotalAmount: decimal.NewFromInt(200), PaidAmount: decimal.NewFromInt(50)}
	r.SyncPaymentState()

	resp := r.ToResponse(settlement.DefaultPolicy())
	assert.True(t, resp.Decision.Due)
	assert.True(t, resp.Summary.Remaining.Equal(decimal.NewFromInt(150)))

	id, ok := r.ToRecord().ClientRefID()
	assert.True(t, ok)
	assert.Equal(t, 8, id)
}
