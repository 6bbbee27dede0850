package settlement

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func boolPtr(b bool) *bool { return &b }

func TestSummarize_TotalMinusPaid(t *testing.T) {
	s := Summarize(Record{TotalAmount: NewAmount(1000), PaidAmount: NewAmount(300)})
	assertDecimal(t, "1000", s.Total)
	assertDecimal(t, "300", s.Paid)
	assertDecimal(t, "700", s.Remaining)
}

func TestSummarize_StringFields(t *testing.T) {
	s := Summarize(Record{TotalAmount: Coerce("1000.50"), PaidAmount: Coerce(" 200 ")})
	assertDecimal(t, "800.5", s.Remaining)
}

func TestSummarize_InvalidFieldsAreZero(t *testing.T) {
	cases := []Record{
		{TotalAmount: Coerce(nil), PaidAmount: Coerce(nil)},
		{TotalAmount: Coerce("abc"), PaidAmount: Coerce("12")},
		{TotalAmount: Coerce(map[string]int{}), PaidAmount: Coerce(true)},
	}
	for _, r := range cases {
		s := Summarize(r)
		assert.True(t, s.Total.IsZero())
		assert.True(t, s.Remaining.IsZero())
	}
}

func TestSummarize_CachedRemainingWins(t *testing.T) {
	s := Summarize(Record{TotalAmount: NewAmount(1000), PaidAmount: NewAmount(300), CachedRemaining: NewAmount(50)})
	assertDecimal(t, "50", s.Remaining)
}

func TestSummarize_RemainingNeverNegative(t *testing.T) {
	overpaid := Summarize(Record{TotalAmount: NewAmount(100), PaidAmount: NewAmount(250)})
	assert.True(t, overpaid.Remaining.IsZero())

	negativeCache := Summarize(Record{TotalAmount: NewAmount(100), CachedRemaining: NewAmount(-20)})
	assert.True(t, negativeCache.Remaining.IsZero())

	for total := 0; total <= 500; total += 50 {
		for paid := 0; paid <= 500; paid += 50 {
			s := Summarize(Record{TotalAmount: NewAmount(float64(total)), PaidAmount: NewAmount(float64(paid))})
			want := decimal.Max(decimal.NewFromInt(int64(total-paid)), decimal.Zero)
			assert.True(t, want.Equal(s.Remaining), "total=%d paid=%d", total, paid)
		}
	}
}

func TestIsPaymentDue_AnySignal(t *testing.T) {
	tests := []struct {
		name string
		r    Record
		want bool
	}{
		{"explicit flag", Record{HasPaymentDue: boolPtr(true), TotalAmount: NewAmount(100), PaidAmount: NewAmount(100)}, true},
		{"remaining from cache", Record{CachedRemaining: NewAmount(10)}, true},
		{"status partial", Record{PaymentStatus: "Partial"}, true},
		{"status unpaid", Record{PaymentStatus: "UNPAID"}, true},
		{"status due", Record{PaymentStatus: "due"}, true},
		{"paid less than total", Record{TotalAmount: NewAmount(100), PaidAmount: NewAmount(40), CachedRemaining: NewAmount(0)}, true},
		{"settled", Record{HasPaymentDue: boolPtr(false), CachedRemaining: NewAmount(0), PaymentStatus: "paid", TotalAmount: NewAmount(100), PaidAmount: NewAmount(100)}, false},
		{"empty", Record{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsPaymentDue(tt.r))
		})
	}
}

func TestDuePolicy_ReportsConflict(t *testing.T) {
	r := Record{HasPaymentDue: boolPtr(false), PaymentStatus: "partial", TotalAmount: NewAmount(100), PaidAmount: NewAmount(100)}
	d := DefaultPolicy().Evaluate(r)
	assert.True(t, d.Due)
	assert.Equal(t, SignalStatus, d.Signal)
	assert.True(t, d.Conflicting)
}

func TestDuePolicy_Precedence(t *testing.T) {
	r := Record{HasPaymentDue: boolPtr(false), PaymentStatus: "partial", TotalAmount: NewAmount(100), PaidAmount: NewAmount(100)}

	flagFirst := DuePolicy{Mode: PolicyPrecedence, Precedence: []Signal{SignalFlag, SignalStatus}}
	d := flagFirst.Evaluate(r)
	assert.False(t, d.Due)
	assert.Equal(t, SignalFlag, d.Signal)

	statusFirst := DuePolicy{Mode: PolicyPrecedence, Precedence: []Signal{SignalStatus, SignalFlag}}
	d = statusFirst.Evaluate(r)
	assert.True(t, d.Due)
	assert.Equal(t, SignalStatus, d.Signal)
}

func TestDuePolicy_PrecedenceSkipsIndeterminate(t *testing.T) {
	p := DuePolicy{Mode: PolicyPrecedence, Precedence: []Signal{SignalFlag, SignalStatus, SignalTotals}}
	d := p.Evaluate(Record{PaymentStatus: "legacy", TotalAmount: NewAmount(80), PaidAmount: NewAmount(20)})
	assert.True(t, d.Due)
	assert.Equal(t, SignalTotals, d.Signal)

	d = p.Evaluate(Record{PaymentStatus: "legacy"})
	assert.False(t, d.Due)
	assert.Empty(t, d.Signal)
}

func TestDuePolicy_PrecedenceNeverIgnoresRemaining(t *testing.T) {
	r := Record{
		HasPaymentDue: boolPtr(false),
		PaymentStatus: "paid",
		TotalAmount:   NewAmount(1000),
		PaidAmount:    NewAmount(400),
	}
	for _, order := range [][]Signal{
		{SignalFlag, SignalRemaining},
		{SignalStatus, SignalFlag},
		{SignalFlag},
	} {
		d := DuePolicy{Mode: PolicyPrecedence, Precedence: order}.Evaluate(r)
		assert.True(t, d.Due, "order %v", order)
		assert.Equal(t, SignalRemaining, d.Signal)
		assert.True(t, d.Conflicting)
	}
}

func TestParseSignal(t *testing.T) {
	sig, err := ParseSignal(" Payment_Status ")
	assert.NoError(t, err)
	assert.Equal(t, SignalStatus, sig)

	_, err = ParseSignal("balance")
	assert.Error(t, err)
}
