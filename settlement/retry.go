package settlement

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryGateway 對暫時性失敗做有限次數的指數退避重試
// 欄位驗證錯誤不重試；重試沿用同一個 idempotency key，伺服器端不會重複入帳
type RetryGateway struct {
	Next      PaymentGateway
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Logger    logrus.FieldLogger

	wait func(ctx context.Context, d time.Duration) error
}

// NewRetryGateway attempts 小於 1 時視為 1
func NewRetryGateway(next PaymentGateway, attempts int, baseDelay time.Duration) *RetryGateway {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryGateway{
		Next:      next,
		Attempts:  attempts,
		BaseDelay: baseDelay,
		MaxDelay:  10 * baseDelay,
		Logger:    logrus.StandardLogger(),
	}
}

func (g *RetryGateway) SubmitPayment(ctx context.Context, sub PaymentSubmission) error {
	wait := g.wait
	if wait == nil {
		wait = sleepContext
	}
	delay := g.BaseDelay
	for attempt := 1; ; attempt++ {
		err := g.Next.SubmitPayment(ctx, sub)
		if err == nil || !IsTemporary(err) || attempt >= g.Attempts {
			return err
		}
		if g.Logger != nil {
			g.Logger.WithFields(logrus.Fields{
				"rental_id": sub.RentalID,
				"attempt":   attempt,
				"delay":     delay.String(),
			}).WithError(err).Warn("Retrying payment submission")
		}
		if werr := wait(ctx, delay); werr != nil {
			return err
		}
		delay *= 2
		if g.MaxDelay > 0 && delay > g.MaxDelay {
			delay = g.MaxDelay
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
