package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"fleetrent/models"
	"fleetrent/settlement"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

var ErrSessionNotFound = errors.New("settlement session not found")

// RecordLoader 讀取結算所需的租賃資料，本地資料庫或遠端後台
type RecordLoader interface {
	LoadRecord(ctx context.Context, rentalID int) (settlement.Record, error)
}

// Session 伺服器端保存的一個結算流程
type Session struct {
	ID         string
	RentalID   int
	Controller *settlement.Controller
	Records    *settlement.Records

	lastUsed time.Time
}

// SessionStore 以 uuid 管理進行中的結算流程
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session

	payments settlement.PaymentGateway
	finalize settlement.FinalizeFunc
	loader   RecordLoader
	policy   settlement.DuePolicy
	maxIdle  time.Duration
	log      logrus.FieldLogger
	now      func() time.Time
}

// NewSessionStore payments、finalize 與 loader 必須指向同一個資料來源
func NewSessionStore(payments settlement.PaymentGateway, finalize settlement.FinalizeFunc, loader RecordLoader, policy settlement.DuePolicy, maxIdle time.Duration, log logrus.FieldLogger) *SessionStore {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SessionStore{
		sessions: make(map[string]*Session),
		payments: payments,
		finalize: finalize,
		loader:   loader,
		policy:   policy,
		maxIdle:  maxIdle,
		log:      log,
		now:      time.Now,
	}
}

// Open 載入租賃並開啟新的結算流程
func (s *SessionStore) Open(ctx context.Context, rentalID int) (*Session, settlement.State, error) {
	record, err := s.loader.LoadRecord(ctx, rentalID)
	if err != nil {
		return nil, settlement.State{}, err
	}
	switch record.Status {
	case models.RentStatusInProgress:
	case models.RentStatusCompleted:
		return nil, settlement.State{}, ErrAlreadyCompleted
	default:
		return nil, settlement.State{}, ErrRentNotActive
	}

	id := uuid.NewString()
	records := settlement.NewRecords(record)
	finalize := s.finalize
	ctrl := settlement.NewController(s.payments, func(ctx context.Context, r settlement.Record, p settlement.FinalizationPayload) error {
		if err := finalize(ctx, r, p); err != nil {
			return err
		}
		records.Remove(r.ID)
		return nil
	}, settlement.Options{
		Policy:  s.policy,
		Records: records,
		Logger:  s.log.WithField("session_id", id),
	})

	sess := &Session{
		ID:         id,
		RentalID:   rentalID,
		Controller: ctrl,
		Records:    records,
		lastUsed:   s.now(),
	}
	state := ctrl.Open(record)

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"session_id": id,
		"rent_id":    rentalID,
		"step":       state.Step,
	}).Info("Settlement session opened")
	return sess, state, nil
}

// Get 取得結算流程並更新最後使用時間
func (s *SessionStore) Get(id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.lastUsed = s.now()
	return sess, nil
}

// Reload 重新讀取資料庫中的租賃並更新結算流程
func (s *SessionStore) Reload(ctx context.Context, id string) (settlement.State, error) {
	sess, err := s.Get(id)
	if err != nil {
		return settlement.State{}, err
	}
	record, err := s.loader.LoadRecord(ctx, sess.RentalID)
	if err != nil {
		return settlement.State{}, fmt.Errorf("failed to reload rent for session %s: %w", id, err)
	}
	return sess.Controller.Refresh(record), nil
}

// Finalize 完成租賃；除了尚未可完成的情況外，流程都會結束
func (s *SessionStore) Finalize(ctx context.Context, id string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	err = sess.Controller.Finalize(ctx)
	if errors.Is(err, settlement.ErrFinalizeBlocked) {
		return err
	}
	s.remove(id)
	return err
}

// Close 放棄結算流程
func (s *SessionStore) Close(id string) error {
	sess, err := s.Get(id)
	if err != nil {
		return err
	}
	sess.Controller.Cancel()
	s.remove(id)
	s.log.WithField("session_id", id).Info("Settlement session closed")
	return nil
}

// PurgeIdle 移除閒置超過 maxIdle 的流程，付款處理中的流程保留
func (s *SessionStore) PurgeIdle() int {
	if s.maxIdle <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.maxIdle)

	s.mu.Lock()
	var stale []*Session
	for id, sess := range s.sessions {
		if sess.lastUsed.After(cutoff) {
			continue
		}
		if sess.Controller.State().Processing {
			continue
		}
		stale = append(stale, sess)
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	for _, sess := range stale {
		sess.Controller.Cancel()
	}
	if len(stale) > 0 {
		s.log.WithField("count", len(stale)).Info("Purged idle settlement sessions")
	}
	return len(stale)
}

// Len 目前的流程數
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *SessionStore) remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}
