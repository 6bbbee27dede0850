package settlement

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Amount 金額欄位
// 上游送來的金額可能是數字、字串或 null，一律在邊界轉成 Amount，之後只看 Valid 與 Value
type Amount struct {
	Value decimal.Decimal
	Valid bool
}

// NewAmount 由 float64 建立金額，NaN 與 Inf 視為無效
func NewAmount(v float64) Amount {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Amount{}
	}
	return Amount{Value: decimal.NewFromFloat(v), Valid: true}
}

// AmountOf 包裝一個已知有效的 decimal
func AmountOf(d decimal.Decimal) Amount {
	return Amount{Value: d, Valid: true}
}

// ParseAmount 解析使用者輸入或字串型態的金額，無法解析時回傳無效金額
func ParseAmount(s string) Amount {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Amount{}
	}
	return Amount{Value: d, Valid: true}
}

// Coerce 把任意執行期型態轉成 Amount，不認得的型態一律視為無效
func Coerce(v any) Amount {
	switch x := v.(type) {
	case nil:
		return Amount{}
	case Amount:
		return x
	case *Amount:
		if x == nil {
			return Amount{}
		}
		return *x
	case decimal.Decimal:
		return AmountOf(x)
	case float64:
		return NewAmount(x)
	case float32:
		return NewAmount(float64(x))
	case int:
		return AmountOf(decimal.NewFromInt(int64(x)))
	case int64:
		return AmountOf(decimal.NewFromInt(x))
	case int32:
		return AmountOf(decimal.NewFromInt(int64(x)))
	case json.Number:
		return ParseAmount(x.String())
	case string:
		return ParseAmount(x)
	case *float64:
		if x == nil {
			return Amount{}
		}
		return NewAmount(*x)
	default:
		return Amount{}
	}
}

// OrZero 回傳有限且非負的值，其餘一律當作 0
func (a Amount) OrZero() decimal.Decimal {
	if !a.Valid || a.Value.IsNegative() {
		return decimal.Zero
	}
	return a.Value
}

// IsPositive 金額有效且大於 0
func (a Amount) IsPositive() bool {
	return a.Valid && a.Value.IsPositive()
}

func (a Amount) String() string {
	if !a.Valid {
		return ""
	}
	return a.Value.String()
}

// MarshalJSON 以 JSON 數字輸出，無效時輸出 null
func (a Amount) MarshalJSON() ([]byte, error) {
	if !a.Valid {
		return []byte("null"), nil
	}
	return []byte(a.Value.String()), nil
}

// UnmarshalJSON 接受數字、數字字串與 null；其他內容不報錯，只標記為無效
func (a *Amount) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*a = Amount{}
		return nil
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			*a = Amount{}
			return nil
		}
		*a = ParseAmount(s)
		return nil
	}
	*a = ParseAmount(string(b))
	return nil
}
