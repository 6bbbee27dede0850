package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fleetrent/models"
	"fleetrent/settlement"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

var (
	ErrRentNotFound     = errors.New("rent not found")
	ErrRentNotActive    = errors.New("rent is not in progress")
	ErrAlreadyCompleted = errors.New("rent already completed")
	ErrBalanceDue       = errors.New("rent still has a balance due")
	ErrInvalidRating    = errors.New("client_rating must be between 1 and 5")
)

// RentService 租賃查詢與完成
type RentService struct {
	db     *gorm.DB
	policy settlement.DuePolicy
	log    logrus.FieldLogger
	now    func() time.Time
}

func NewRentService(db *gorm.DB, policy settlement.DuePolicy, log logrus.FieldLogger) *RentService {
	if policy.Mode == "" {
		policy = settlement.DefaultPolicy()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RentService{db: db, policy: policy, log: log, now: time.Now}
}

// Policy 判斷是否有欠款所用的規則
func (s *RentService) Policy() settlement.DuePolicy {
	return s.policy
}

// ListActive 取得所有進行中的租賃，依預計歸還時間排序
func (s *RentService) ListActive(ctx context.Context) ([]models.Rent, error) {
	rents, err := s.queryActive(ctx)
	if err != nil {
		return nil, err
	}
	for i := range rents {
		rents[i].SyncPaymentState()
	}
	return rents, nil
}

// queryActive 資料庫中原樣的進行中租賃
func (s *RentService) queryActive(ctx context.Context) ([]models.Rent, error) {
	var rents []models.Rent
	if err := s.db.WithContext(ctx).
		Where("status = ?", models.RentStatusInProgress).
		Order("end_time ASC").
		Find(&rents).Error; err != nil {
		return nil, fmt.Errorf("failed to query active rents: %w", err)
	}
	return rents, nil
}

// GetRent 依 ID 取得租賃
func (s *RentService) GetRent(ctx context.Context, id int) (*models.Rent, error) {
	var rent models.Rent
	if err := s.db.WithContext(ctx).First(&rent, "rent_id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRentNotFound
		}
		return nil, fmt.Errorf("failed to get rent %d: %w", id, err)
	}
	// 外部寫入的租賃可能沒有剩餘金額快取，回傳前一律依 total 與 paid 重算
	rent.SyncPaymentState()
	return &rent, nil
}

// LoadRecord 實作 RecordLoader
func (s *RentService) LoadRecord(ctx context.Context, id int) (settlement.Record, error) {
	rent, err := s.GetRent(ctx, id)
	if err != nil {
		return settlement.Record{}, err
	}
	return rent.ToRecord(), nil
}

// Complete 完成租賃並寫入評分與備註，仍有欠款時拒絕
func (s *RentService) Complete(ctx context.Context, id int, payload settlement.FinalizationPayload) (*models.Rent, error) {
	if payload.ClientRating != nil && (*payload.ClientRating < 1 || *payload.ClientRating > 5) {
		return nil, ErrInvalidRating
	}

	var rent models.Rent
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&rent, "rent_id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrRentNotFound
			}
			return fmt.Errorf("failed to load rent %d: %w", id, err)
		}
		switch rent.Status {
		case models.RentStatusCompleted:
			return ErrAlreadyCompleted
		case models.RentStatusInProgress:
		default:
			return ErrRentNotActive
		}

		rent.SyncPaymentState()
		if decision := s.policy.Evaluate(rent.ToRecord()); decision.Due {
			s.log.WithFields(logrus.Fields{
				"rent_id":   rent.RentID,
				"remaining": rent.RemainingAmount.StringFixed(2),
				"signal":    decision.Signal,
			}).Warn("Refusing to complete rent with balance due")
			return ErrBalanceDue
		}

		now := s.now()
		rent.Status = models.RentStatusCompleted
		rent.ActualEndTime = &now
		rent.ClientRating = payload.ClientRating
		rent.ClientNote = payload.ClientNote
		if err := tx.Model(&rent).
			Select("status", "actual_end_time", "client_rating", "client_note", "remaining_amount", "payment_status").
			Updates(&rent).Error; err != nil {
			return fmt.Errorf("failed to complete rent %d: %w", id, err)
		}

		// 歸還車輛
		if err := tx.Model(&models.Vehicle{}).
			Where("license_plate = ?", rent.LicensePlate).
			Update("status", models.VehicleStatusAvailable).Error; err != nil {
			return fmt.Errorf("failed to release vehicle %s: %w", rent.LicensePlate, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"rent_id":       rent.RentID,
		"license_plate": rent.LicensePlate,
		"rated":         rent.ClientRating != nil,
	}).Info("Rent completed")
	return &rent, nil
}

// Finalizer 給結算流程使用的完成函式
func (s *RentService) Finalizer() settlement.FinalizeFunc {
	return func(ctx context.Context, r settlement.Record, p settlement.FinalizationPayload) error {
		_, err := s.Complete(ctx, r.ID, p)
		return err
	}
}

// ReconcilePaymentStates 依 total 與 paid 修正進行中租賃的剩餘金額與付款狀態，回傳修正筆數
func (s *RentService) ReconcilePaymentStates(ctx context.Context) (int, error) {
	rents, err := s.queryActive(ctx)
	if err != nil {
		return 0, err
	}

	fixed := 0
	for i := range rents {
		rent := &rents[i]
		if !rent.SyncPaymentState() {
			continue
		}
		if err := s.db.WithContext(ctx).Model(rent).
			Select("remaining_amount", "payment_status").
			Updates(rent).Error; err != nil {
			return fixed, fmt.Errorf("failed to reconcile rent %d: %w", rent.RentID, err)
		}
		fixed++
	}
	if fixed > 0 {
		s.log.WithField("count", fixed).Info("Reconciled rent payment states")
	}
	return fixed, nil
}
