package settlement

import (
	"fmt"
	"strings"
)

// Signal 判斷是否尚有欠款的其中一個依據
type Signal string

const (
	SignalFlag      Signal = "has_payment_due"
	SignalRemaining Signal = "remaining"
	SignalStatus    Signal = "payment_status"
	SignalTotals    Signal = "totals"
)

// PolicyMode 多個依據的合併方式
type PolicyMode string

const (
	// PolicyAny 任一依據顯示欠款即視為欠款
	PolicyAny PolicyMode = "any"
	// PolicyPrecedence 依序查看，第一個有結論的依據決定結果；剩餘金額大於 0 時仍為欠款
	PolicyPrecedence PolicyMode = "precedence"
)

// DefaultPrecedence 預設的依據順序
func DefaultPrecedence() []Signal {
	return []Signal{SignalFlag, SignalRemaining, SignalStatus, SignalTotals}
}

// ParseSignal 解析設定檔中的依據名稱
func ParseSignal(s string) (Signal, error) {
	switch sig := Signal(strings.ToLower(strings.TrimSpace(s))); sig {
	case SignalFlag, SignalRemaining, SignalStatus, SignalTotals:
		return sig, nil
	default:
		return "", fmt.Errorf("unknown due signal %q", s)
	}
}

// DuePolicy 決定完成租賃前是否必須先結清款項
type DuePolicy struct {
	Mode       PolicyMode
	Precedence []Signal
}

// DefaultPolicy 任一依據成立即需付款
func DefaultPolicy() DuePolicy {
	return DuePolicy{Mode: PolicyAny, Precedence: DefaultPrecedence()}
}

// Decision 判斷結果
type Decision struct {
	Due         bool            `json:"due"`
	Signal      Signal          `json:"signal,omitempty"`
	Votes       map[Signal]bool `json:"votes"`
	Conflicting bool            `json:"conflicting"`
}

// IsPaymentDue 以預設規則判斷
func IsPaymentDue(r Record) bool {
	return DefaultPolicy().Evaluate(r).Due
}

// Evaluate 依規則判斷租賃是否仍有欠款
func (p DuePolicy) Evaluate(r Record) Decision {
	votes := signalVotes(r)
	d := Decision{Votes: votes}

	sawDue, sawSettled := false, false
	for _, v := range votes {
		if v {
			sawDue = true
		} else {
			sawSettled = true
		}
	}
	d.Conflicting = sawDue && sawSettled

	order := p.Precedence
	if len(order) == 0 {
		order = DefaultPrecedence()
	}

	if p.Mode == PolicyPrecedence {
		for _, sig := range order {
			if v, ok := votes[sig]; ok {
				d.Due = v
				d.Signal = sig
				break
			}
		}
		// 剩餘金額大於 0 時一律視為欠款，其他依據不能推翻
		if !d.Due && Summarize(r).Remaining.IsPositive() {
			d.Due = true
			d.Signal = SignalRemaining
		}
		return d
	}

	for _, sig := range DefaultPrecedence() {
		if votes[sig] {
			d.Due = true
			d.Signal = sig
			return d
		}
	}
	return d
}

// signalVotes 只收錄有結論的依據
func signalVotes(r Record) map[Signal]bool {
	votes := make(map[Signal]bool, 4)

	if r.HasPaymentDue != nil {
		votes[SignalFlag] = *r.HasPaymentDue
	}

	s := Summarize(r)
	if r.CachedRemaining.Valid || r.TotalAmount.Valid {
		votes[SignalRemaining] = s.Remaining.IsPositive()
	}

	switch strings.ToLower(strings.TrimSpace(r.PaymentStatus)) {
	case PaymentStatusPartial, PaymentStatusDue, PaymentStatusUnpaid:
		votes[SignalStatus] = true
	case PaymentStatusPaid:
		votes[SignalStatus] = false
	}

	if s.Total.IsPositive() {
		votes[SignalTotals] = s.Paid.LessThan(s.Total)
	}

	return votes
}
