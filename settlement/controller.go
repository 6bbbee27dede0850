package settlement

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Step 結算流程的步驟
type Step string

const (
	StepIdle            Step = "idle"
	StepAwaitingPayment Step = "awaiting_payment"
	StepAwaitingRating  Step = "awaiting_rating"
)

// State 給畫面使用的快照
type State struct {
	Step              Step     `json:"step"`
	Record            *Record  `json:"record,omitempty"`
	Summary           Summary  `json:"summary"`
	Decision          Decision `json:"decision"`
	PaymentDialogOpen bool     `json:"payment_dialog_open"`
	RatingDialogOpen  bool     `json:"rating_dialog_open"`
	Processing        bool     `json:"processing"`
	CustomAmount      string   `json:"custom_amount"`
	FieldError        string   `json:"field_error,omitempty"`
	GatewayError      string   `json:"gateway_error,omitempty"`
	Rating            int      `json:"rating"`
	Note              string   `json:"note"`
}

// Options Controller 的選用設定
type Options struct {
	Policy DuePolicy
	// Records 呼叫端的租賃清單，付款成功後同步更新
	Records RecordList
	// OnChange 每次狀態改變後呼叫，不在鎖內執行
	OnChange func(State)
	Logger   logrus.FieldLogger
	// NewIdempotencyKey 每次送出付款產生一個新的 key
	NewIdempotencyKey func() string
}

// Controller 租賃完成與結算的狀態機，每個結算流程一個實例
type Controller struct {
	mu sync.Mutex

	payments PaymentGateway
	finalize FinalizeFunc
	policy   DuePolicy
	records  RecordList
	onChange func(State)
	log      logrus.FieldLogger
	newKey   func() string

	step          Step
	selected      *Record
	generation    int
	processing    bool
	paymentDialog bool
	ratingDialog  bool
	customAmount  string
	fieldErr      string
	gatewayErr    string
	rating        int
	note          string
}

// NewController 建立結算流程
func NewController(payments PaymentGateway, finalize FinalizeFunc, opts Options) *Controller {
	policy := opts.Policy
	if policy.Mode == "" {
		policy = DefaultPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	newKey := opts.NewIdempotencyKey
	if newKey == nil {
		newKey = func() string { return uuid.NewString() }
	}
	return &Controller{
		payments: payments,
		finalize: finalize,
		policy:   policy,
		records:  opts.Records,
		onChange: opts.OnChange,
		log:      logger,
		newKey:   newKey,
		step:     StepIdle,
	}
}

// State 目前狀態的快照
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Open 選取租賃並開始完成流程：有欠款先付款，否則直接評分
func (c *Controller) Open(r Record) State {
	c.mu.Lock()
	sel := r
	c.selected = &sel
	c.generation++
	c.processing = false
	c.customAmount = ""
	c.fieldErr = ""
	c.gatewayErr = ""
	c.rating = 0
	c.note = ""

	decision := c.policy.Evaluate(sel)
	if decision.Conflicting {
		c.log.WithFields(logrus.Fields{
			"rental_id": sel.ID,
			"votes":     decision.Votes,
			"due":       decision.Due,
		}).Warn("Payment due signals disagree")
	}
	if decision.Due {
		c.enterPaymentLocked()
	} else {
		c.enterRatingLocked()
	}
	c.log.WithFields(logrus.Fields{
		"rental_id": sel.ID,
		"step":      c.step,
		"signal":    decision.Signal,
	}).Debug("Completion flow opened")
	return c.commit()
}

// Refresh 外部重新載入所選租賃後更新狀態
// 付款送出期間的重新載入會被忽略，待回應後再重新載入
func (c *Controller) Refresh(r Record) State {
	c.mu.Lock()
	if c.selected == nil || c.selected.ID != r.ID {
		return c.commit()
	}
	// 付款處理中不替換資料，回應會以送出時的資料套用
	if c.processing {
		c.log.WithField("rental_id", r.ID).Debug("Refresh ignored while a payment is being submitted")
		return c.commit()
	}
	sel := r
	c.selected = &sel
	due := c.policy.Evaluate(sel).Due
	switch {
	case c.step == StepAwaitingPayment && !due:
		c.enterRatingLocked()
	case c.step == StepAwaitingRating && due:
		c.enterPaymentLocked()
	}
	return c.commit()
}

// SetCustomAmount 付款視窗中自由輸入的金額
func (c *Controller) SetCustomAmount(text string) {
	c.mu.Lock()
	c.customAmount = text
	c.fieldErr = ""
	c.commit()
}

// PayRemaining 付清剩餘金額
func (c *Controller) PayRemaining(ctx context.Context) error {
	c.mu.Lock()
	if c.selected == nil {
		c.mu.Unlock()
		return ErrNoSelection
	}
	remaining := Summarize(*c.selected).Remaining
	c.mu.Unlock()
	return c.SubmitPayment(ctx, AmountOf(remaining))
}

// PayCustomAmount 以自由輸入的金額付款
func (c *Controller) PayCustomAmount(ctx context.Context) error {
	c.mu.Lock()
	text := c.customAmount
	c.mu.Unlock()
	return c.SubmitPayment(ctx, ParseAmount(text))
}

// SubmitPayment 驗證金額後送出付款
// 成功時以送出當下的租賃 ID 套用樂觀更新；剩餘為 0 時自動進入評分
func (c *Controller) SubmitPayment(ctx context.Context, amount Amount) error {
	c.mu.Lock()
	if c.selected == nil {
		c.mu.Unlock()
		return ErrNoSelection
	}
	if c.step != StepAwaitingPayment {
		c.mu.Unlock()
		return ErrWrongStep
	}
	if c.processing {
		c.mu.Unlock()
		return ErrSubmitting
	}
	c.fieldErr = ""
	c.gatewayErr = ""

	summary := Summarize(*c.selected)
	if !amount.IsPositive() {
		return c.rejectLocked("amount", MsgAmountNotPositive)
	}
	if amount.Value.GreaterThan(summary.Remaining) {
		return c.rejectLocked("amount", MsgAmountExceedsRemaining)
	}
	clientID, ok := c.selected.ClientRefID()
	if !ok {
		return c.rejectLocked("client_id", MsgClientNotFound)
	}

	captured := *c.selected
	generation := c.generation
	sub := PaymentSubmission{
		RentalID:       captured.ID,
		ClientID:       clientID,
		Amount:         AmountOf(amount.Value),
		Method:         MethodCash,
		Reference:      "",
		IdempotencyKey: c.newKey(),
	}
	c.processing = true
	c.commit()

	err := c.payments.SubmitPayment(ctx, sub)

	c.mu.Lock()
	if generation == c.generation {
		c.processing = false
	}
	if err != nil {
		gerr := AsGatewayError(err)
		if c.selected != nil && c.selected.ID == captured.ID {
			c.gatewayErr = gerr.Summary()
		}
		c.log.WithFields(logrus.Fields{
			"rental_id": captured.ID,
			"amount":    sub.Amount.String(),
		}).WithError(err).Warn("Payment submission failed")
		c.commit()
		return gerr
	}

	base := captured
	if c.selected != nil && c.selected.ID == captured.ID {
		base = *c.selected
	}
	patch := PatchAfterPayment(base, sub.Amount.Value)
	if c.records != nil {
		c.records.ApplyPatch(captured.ID, patch)
	}

	fields := logrus.Fields{
		"rental_id": captured.ID,
		"amount":    sub.Amount.String(),
		"paid":      patch.Paid.String(),
		"remaining": patch.Remaining.String(),
	}
	if c.selected == nil || c.selected.ID != captured.ID {
		c.log.WithFields(fields).Warn("Payment response arrived after selection changed, selection left untouched")
		c.commit()
		return nil
	}

	patched := c.selected.WithPatch(patch)
	c.selected = &patched
	c.customAmount = ""
	if patch.Remaining.IsZero() && c.step == StepAwaitingPayment {
		c.enterRatingLocked()
	}
	c.log.WithFields(fields).Info("Payment recorded")
	c.commit()
	return nil
}

// ClosePaymentDialog 關閉付款視窗回到閒置，租賃維持未結清
func (c *Controller) ClosePaymentDialog() error {
	c.mu.Lock()
	if c.step != StepAwaitingPayment {
		c.mu.Unlock()
		return ErrWrongStep
	}
	c.resetLocked()
	c.commit()
	return nil
}

// Cancel 在任何步驟放棄流程
func (c *Controller) Cancel() {
	c.mu.Lock()
	c.resetLocked()
	c.commit()
}

// SetRating 0 表示不評分
func (c *Controller) SetRating(rating int) error {
	c.mu.Lock()
	if c.step != StepAwaitingRating {
		c.mu.Unlock()
		return ErrWrongStep
	}
	if rating < 0 || rating > 5 {
		return c.rejectLocked("client_rating", MsgRatingOutOfRange)
	}
	c.fieldErr = ""
	c.rating = rating
	c.commit()
	return nil
}

// SetNote 客戶備註
func (c *Controller) SetNote(note string) error {
	c.mu.Lock()
	if c.step != StepAwaitingRating {
		c.mu.Unlock()
		return ErrWrongStep
	}
	c.note = note
	c.commit()
	return nil
}

// Finalize 關閉評分視窗並交給呼叫端完成租賃
// 呼叫端回傳的錯誤原樣回傳，狀態不會因此回復
func (c *Controller) Finalize(ctx context.Context) error {
	c.mu.Lock()
	if c.step != StepAwaitingRating || c.selected == nil {
		c.mu.Unlock()
		return ErrFinalizeBlocked
	}
	if c.finalize == nil {
		c.mu.Unlock()
		return ErrNoFinalizer
	}
	record := *c.selected
	payload := BuildPayload(c.rating, c.note)
	c.resetLocked()
	c.commit()

	c.log.WithFields(logrus.Fields{
		"rental_id": record.ID,
		"rated":     payload.ClientRating != nil,
	}).Info("Finalizing rental")
	return c.finalize(ctx, record, payload)
}

// BuildPayload rating 為 0 或備註為空白時送 null
func BuildPayload(rating int, note string) FinalizationPayload {
	var p FinalizationPayload
	if rating > 0 {
		r := rating
		p.ClientRating = &r
	}
	if trimmed := strings.TrimSpace(note); trimmed != "" {
		p.ClientNote = &trimmed
	}
	return p
}

func (c *Controller) enterPaymentLocked() {
	c.step = StepAwaitingPayment
	c.paymentDialog = true
	c.ratingDialog = false
}

func (c *Controller) enterRatingLocked() {
	c.step = StepAwaitingRating
	c.paymentDialog = false
	c.ratingDialog = true
}

func (c *Controller) resetLocked() {
	c.step = StepIdle
	c.selected = nil
	c.generation++
	c.processing = false
	c.paymentDialog = false
	c.ratingDialog = false
	c.customAmount = ""
	c.fieldErr = ""
	c.gatewayErr = ""
	c.rating = 0
	c.note = ""
}

// rejectLocked 記錄驗證錯誤後解鎖
func (c *Controller) rejectLocked(field, message string) error {
	c.fieldErr = message
	c.commit()
	return &ValidationError{Field: field, Message: message}
}

// commit 取快照、解鎖後通知監聽者
func (c *Controller) commit() State {
	s := c.snapshotLocked()
	c.mu.Unlock()
	if c.onChange != nil {
		c.onChange(s)
	}
	return s
}

func (c *Controller) snapshotLocked() State {
	s := State{
		Step:              c.step,
		PaymentDialogOpen: c.paymentDialog,
		RatingDialogOpen:  c.ratingDialog,
		Processing:        c.processing,
		CustomAmount:      c.customAmount,
		FieldError:        c.fieldErr,
		GatewayError:      c.gatewayErr,
		Rating:            c.rating,
		Note:              c.note,
	}
	if c.selected != nil {
		r := *c.selected
		s.Record = &r
		s.Summary = Summarize(r)
		s.Decision = c.policy.Evaluate(r)
	}
	return s
}

// IsValidation 是否為本地驗證錯誤
func IsValidation(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
