package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"fleetrent/models"
	"fleetrent/settlement"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// amountTolerance 金額比較容許的誤差，小於最小貨幣單位
const amountTolerance = 0.005

var ErrIdempotencyConflict = errors.New("idempotency key already used for another rental")

// PaymentService 直接寫入資料庫的付款服務，實作 settlement.PaymentGateway
type PaymentService struct {
	db  *gorm.DB
	log logrus.FieldLogger
	now func() time.Time
}

func NewPaymentService(db *gorm.DB, log logrus.FieldLogger) *PaymentService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &PaymentService{db: db, log: log, now: time.Now}
}

// SubmitPayment 實作 settlement.PaymentGateway
func (s *PaymentService) SubmitPayment(ctx context.Context, sub settlement.PaymentSubmission) error {
	_, err := s.Record(ctx, sub)
	return err
}

// Record 驗證並入帳一筆付款
// 同一個 idempotency key 重送時回傳第一次的紀錄，不會重複入帳
func (s *PaymentService) Record(ctx context.Context, sub settlement.PaymentSubmission) (*models.Payment, error) {
	if ferr := validateSubmission(sub); ferr != nil {
		return nil, ferr
	}

	if sub.IdempotencyKey != "" {
		existing, err := s.findByKey(ctx, sub.IdempotencyKey)
		if err != nil {
			return nil, storageError(err)
		}
		if existing != nil {
			return s.replay(existing, sub)
		}
	}

	amount := sub.Amount.Value.Round(2)
	var payment *models.Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rent models.Rent
		if err := tx.First(&rent, "rent_id = ?", sub.RentalID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return unprocessable("rental_id", "rental not found")
			}
			return fmt.Errorf("failed to load rent %d: %w", sub.RentalID, err)
		}
		if rent.ClientID != sub.ClientID {
			return unprocessable("client_id", "client does not match rental")
		}
		if !rent.IsActive() {
			return &settlement.GatewayError{
				Message:    fmt.Sprintf("rental is %s and cannot receive payments", rent.Status),
				StatusCode: http.StatusConflict,
			}
		}

		// 條件式更新：兩個結算流程同時付款也不會超過總額
		res := tx.Model(&models.Rent{}).
			Where("rent_id = ? AND paid_amount + ? <= total_amount + ?", rent.RentID, amount.InexactFloat64(), amountTolerance).
			Update("paid_amount", gorm.Expr("paid_amount + ?", amount.InexactFloat64()))
		if res.Error != nil {
			return fmt.Errorf("failed to add payment to rent %d: %w", rent.RentID, res.Error)
		}
		if res.RowsAffected == 0 {
			return unprocessable("amount", settlement.MsgAmountExceedsRemaining)
		}

		if err := tx.First(&rent, "rent_id = ?", rent.RentID).Error; err != nil {
			return fmt.Errorf("failed to reload rent %d: %w", rent.RentID, err)
		}
		rent.PaidAmount = rent.PaidAmount.Round(2)
		rent.SyncPaymentState()
		if err := tx.Model(&rent).Select("paid_amount", "remaining_amount", "payment_status").Updates(&rent).Error; err != nil {
			return fmt.Errorf("failed to sync payment state of rent %d: %w", rent.RentID, err)
		}

		payment = &models.Payment{
			RentID:    rent.RentID,
			ClientID:  sub.ClientID,
			Amount:    amount,
			Method:    methodOrCash(sub.Method),
			Reference: sub.Reference,
			PaidAt:    s.now(),
		}
		if sub.IdempotencyKey != "" {
			key := sub.IdempotencyKey
			payment.IdempotencyKey = &key
		}
		if err := tx.Create(payment).Error; err != nil {
			return fmt.Errorf("failed to create payment: %w", err)
		}

		s.log.WithFields(logrus.Fields{
			"rent_id":        rent.RentID,
			"amount":         amount.StringFixed(2),
			"paid":           rent.PaidAmount.StringFixed(2),
			"remaining":      rent.RemainingAmount.StringFixed(2),
			"payment_status": rent.PaymentStatus,
		}).Info("Payment recorded")
		return nil
	})
	if err != nil {
		var gerr *settlement.GatewayError
		if errors.As(err, &gerr) {
			return nil, gerr
		}
		s.log.WithField("rent_id", sub.RentalID).WithError(err).Error("Failed to record payment")
		return nil, storageError(err)
	}
	return payment, nil
}

// ListByRent 租賃的付款紀錄，依付款時間排序
func (s *PaymentService) ListByRent(ctx context.Context, rentID int) ([]models.Payment, error) {
	var payments []models.Payment
	if err := s.db.WithContext(ctx).Where("rent_id = ?", rentID).Order("paid_at ASC, payment_id ASC").Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("failed to list payments of rent %d: %w", rentID, err)
	}
	return payments, nil
}

func (s *PaymentService) findByKey(ctx context.Context, key string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.WithContext(ctx).Where("idempotency_key = ?", key).First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up idempotency key: %w", err)
	}
	return &payment, nil
}

func (s *PaymentService) replay(existing *models.Payment, sub settlement.PaymentSubmission) (*models.Payment, error) {
	if existing.RentID != sub.RentalID {
		return nil, &settlement.GatewayError{
			Message:    ErrIdempotencyConflict.Error(),
			StatusCode: http.StatusConflict,
			Err:        ErrIdempotencyConflict,
		}
	}
	s.log.WithFields(logrus.Fields{
		"rent_id":    existing.RentID,
		"payment_id": existing.PaymentID,
	}).Info("Duplicate payment submission, returning recorded payment")
	return existing, nil
}

func validateSubmission(sub settlement.PaymentSubmission) *settlement.GatewayError {
	fields := map[string][]string{}
	if !sub.Amount.IsPositive() {
		fields["amount"] = append(fields["amount"], settlement.MsgAmountNotPositive)
	}
	if sub.ClientID <= 0 {
		fields["client_id"] = append(fields["client_id"], "client_id is required")
	}
	if sub.RentalID <= 0 {
		fields["rental_id"] = append(fields["rental_id"], "rental_id is required")
	}
	if len(fields) == 0 {
		return nil
	}
	return &settlement.GatewayError{FieldErrors: fields, StatusCode: http.StatusUnprocessableEntity}
}

func unprocessable(field, message string) *settlement.GatewayError {
	gerr := settlement.FieldError(field, message)
	gerr.StatusCode = http.StatusUnprocessableEntity
	return gerr
}

// storageError 資料庫錯誤視為暫時性失敗
func storageError(err error) *settlement.GatewayError {
	return &settlement.GatewayError{
		Message:    settlement.MsgPaymentFailed,
		StatusCode: http.StatusInternalServerError,
		Temporary:  true,
		Err:        err,
	}
}

func methodOrCash(method string) string {
	if method == "" {
		return settlement.MethodCash
	}
	return method
}
