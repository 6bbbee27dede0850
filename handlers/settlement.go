package handlers

import (
	"errors"
	"net/http"

	"fleetrent/services"
	"fleetrent/settlement"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SettlementHandler 伺服器端的結算流程
type SettlementHandler struct {
	store *services.SessionStore
	log   logrus.FieldLogger
}

func NewSettlementHandler(store *services.SessionStore, log logrus.FieldLogger) *SettlementHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SettlementHandler{store: store, log: log}
}

type OpenSettlementInput struct {
	RentalID int `json:"rental_id" binding:"required"`
}

type SettlementPaymentInput struct {
	Amount       settlement.Amount `json:"amount"`
	PayRemaining bool              `json:"pay_remaining"`
}

type RatingInput struct {
	Rating *int `json:"rating" binding:"required"`
}

type NoteInput struct {
	Note string `json:"note"`
}

type sessionResponse struct {
	SessionID string           `json:"session_id"`
	State     settlement.State `json:"state"`
}

// OpenSettlement 開啟租賃的結算流程
func (h *SettlementHandler) OpenSettlement(c *gin.Context) {
	var input OpenSettlementInput
	if err := c.ShouldBindJSON(&input); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "無效的輸入資料", "請提供租賃 ID", "ERR_INVALID_INPUT")
		return
	}

	sess, state, err := h.store.Open(c.Request.Context(), input.RentalID)
	if err != nil {
		status, message, code := rentErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.log.WithField("rent_id", input.RentalID).WithError(err).Error("Failed to open settlement")
		}
		ErrorResponse(c, status, message, err.Error(), code)
		return
	}
	SuccessResponse(c, http.StatusCreated, "結算流程已開啟", sessionResponse{SessionID: sess.ID, State: state})
}

// GetSettlement 目前的結算狀態
func (h *SettlementHandler) GetSettlement(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	SuccessResponse(c, http.StatusOK, "查詢成功", sessionResponse{SessionID: sess.ID, State: sess.Controller.State()})
}

// ReloadSettlement 重新讀取租賃資料
func (h *SettlementHandler) ReloadSettlement(c *gin.Context) {
	sid := c.Param("sid")
	state, err := h.store.Reload(c.Request.Context(), sid)
	if err != nil {
		if errors.Is(err, services.ErrSessionNotFound) {
			ErrorResponse(c, http.StatusNotFound, "找不到結算流程", err.Error(), "ERR_SESSION_NOT_FOUND")
			return
		}
		status, message, code := rentErrorStatus(err)
		ErrorResponse(c, status, message, err.Error(), code)
		return
	}
	SuccessResponse(c, http.StatusOK, "已重新載入", sessionResponse{SessionID: sid, State: state})
}

// SubmitPayment 結算流程中付款：指定金額或付清剩餘
func (h *SettlementHandler) SubmitPayment(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var input SettlementPaymentInput
	if err := c.ShouldBindJSON(&input); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "無效的輸入資料", err.Error(), "ERR_INVALID_INPUT")
		return
	}

	var err error
	if input.PayRemaining {
		err = sess.Controller.PayRemaining(c.Request.Context())
	} else {
		err = sess.Controller.SubmitPayment(c.Request.Context(), input.Amount)
	}
	state := sess.Controller.State()
	if err != nil {
		h.writeControllerError(c, sess, err, state)
		return
	}
	SuccessResponse(c, http.StatusOK, "付款成功", sessionResponse{SessionID: sess.ID, State: state})
}

// SetRating 0 表示不評分
func (h *SettlementHandler) SetRating(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var input RatingInput
	if err := c.ShouldBindJSON(&input); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "無效的輸入資料", "請提供評分", "ERR_INVALID_INPUT")
		return
	}
	if err := sess.Controller.SetRating(*input.Rating); err != nil {
		h.writeControllerError(c, sess, err, sess.Controller.State())
		return
	}
	SuccessResponse(c, http.StatusOK, "評分已更新", sessionResponse{SessionID: sess.ID, State: sess.Controller.State()})
}

// SetNote 客戶備註
func (h *SettlementHandler) SetNote(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var input NoteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "無效的輸入資料", err.Error(), "ERR_INVALID_INPUT")
		return
	}
	if err := sess.Controller.SetNote(input.Note); err != nil {
		h.writeControllerError(c, sess, err, sess.Controller.State())
		return
	}
	SuccessResponse(c, http.StatusOK, "備註已更新", sessionResponse{SessionID: sess.ID, State: sess.Controller.State()})
}

// FinalizeSettlement 完成租賃並結束結算流程
func (h *SettlementHandler) FinalizeSettlement(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if err := h.store.Finalize(c.Request.Context(), sess.ID); err != nil {
		if errors.Is(err, settlement.ErrFinalizeBlocked) {
			h.writeControllerError(c, sess, err, sess.Controller.State())
			return
		}
		status, message, code := rentErrorStatus(err)
		if status == http.StatusInternalServerError {
			h.log.WithField("session_id", sess.ID).WithError(err).Error("Failed to finalize rent")
		}
		ErrorResponse(c, status, message, err.Error(), code)
		return
	}
	SuccessResponse(c, http.StatusOK, "租賃已完成", gin.H{"session_id": sess.ID, "rental_id": sess.RentalID})
}

// CloseSettlement 放棄結算流程，租賃維持原狀
func (h *SettlementHandler) CloseSettlement(c *gin.Context) {
	sid := c.Param("sid")
	if err := h.store.Close(sid); err != nil {
		ErrorResponse(c, http.StatusNotFound, "找不到結算流程", err.Error(), "ERR_SESSION_NOT_FOUND")
		return
	}
	SuccessResponse(c, http.StatusOK, "結算流程已關閉", nil)
}

func (h *SettlementHandler) session(c *gin.Context) (*services.Session, bool) {
	sess, err := h.store.Get(c.Param("sid"))
	if err != nil {
		ErrorResponse(c, http.StatusNotFound, "找不到結算流程", err.Error(), "ERR_SESSION_NOT_FOUND")
		return nil, false
	}
	return sess, true
}

// writeControllerError 錯誤回應內附帶最新狀態
func (h *SettlementHandler) writeControllerError(c *gin.Context, sess *services.Session, err error, state settlement.State) {
	data := sessionResponse{SessionID: sess.ID, State: state}

	var verr *settlement.ValidationError
	if errors.As(err, &verr) {
		FieldErrorResponse(c, http.StatusUnprocessableEntity, verr.Message, map[string][]string{verr.Field: {verr.Message}}, "ERR_VALIDATION", data)
		return
	}
	var gerr *settlement.GatewayError
	if errors.As(err, &gerr) {
		writeGatewayError(c, gerr, data)
		return
	}
	switch {
	case errors.Is(err, settlement.ErrSubmitting):
		FieldErrorResponse(c, http.StatusConflict, err.Error(), nil, "ERR_PAYMENT_IN_PROGRESS", data)
	case errors.Is(err, settlement.ErrWrongStep), errors.Is(err, settlement.ErrNoSelection), errors.Is(err, settlement.ErrFinalizeBlocked):
		FieldErrorResponse(c, http.StatusConflict, err.Error(), nil, "ERR_WRONG_STEP", data)
	default:
		h.log.WithField("session_id", sess.ID).WithError(err).Error("Settlement request failed")
		FieldErrorResponse(c, http.StatusInternalServerError, err.Error(), nil, "ERR_INTERNAL_SERVER", data)
	}
}
