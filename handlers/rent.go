package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"fleetrent/gateway"
	"fleetrent/models"
	"fleetrent/services"
	"fleetrent/settlement"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type RentHandler struct {
	rents *services.RentService
	log   logrus.FieldLogger
}

func NewRentHandler(rents *services.RentService, log logrus.FieldLogger) *RentHandler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &RentHandler{rents: rents, log: log}
}

// CompleteInput 完成租賃的評分與備註
type CompleteInput struct {
	ClientRating *int    `json:"client_rating"`
	ClientNote   *string `json:"client_note"`
}

// ListActiveRents 進行中的租賃與付款摘要
func (h *RentHandler) ListActiveRents(c *gin.Context) {
	rents, err := h.rents.ListActive(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("Failed to list active rents")
		ErrorResponse(c, http.StatusInternalServerError, "查詢租賃失敗", err.Error(), "ERR_INTERNAL_SERVER")
		return
	}

	policy := h.rents.Policy()
	resp := make([]models.RentResponse, 0, len(rents))
	for i := range rents {
		resp = append(resp, rents[i].ToResponse(policy))
	}
	SuccessResponse(c, http.StatusOK, "查詢成功", resp)
}

// GetRentSummary 單筆租賃的付款摘要
func (h *RentHandler) GetRentSummary(c *gin.Context) {
	id, ok := rentIDParam(c)
	if !ok {
		return
	}
	rent, err := h.rents.GetRent(c.Request.Context(), id)
	if err != nil {
		h.writeRentError(c, id, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "查詢成功", rent.ToResponse(h.rents.Policy()))
}

// CompleteRent 完成租賃，仍有欠款時回 409
func (h *RentHandler) CompleteRent(c *gin.Context) {
	id, ok := rentIDParam(c)
	if !ok {
		return
	}
	var input CompleteInput
	if err := c.ShouldBindJSON(&input); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "無效的輸入資料", err.Error(), "ERR_INVALID_INPUT")
		return
	}

	payload := settlement.FinalizationPayload{ClientRating: input.ClientRating}
	if input.ClientNote != nil {
		if note := strings.TrimSpace(*input.ClientNote); note != "" {
			payload.ClientNote = &note
		}
	}

	rent, err := h.rents.Complete(c.Request.Context(), id, payload)
	if err != nil {
		h.writeRentError(c, id, err)
		return
	}
	SuccessResponse(c, http.StatusOK, "租賃已完成", rent.ToResponse(h.rents.Policy()))
}

func (h *RentHandler) writeRentError(c *gin.Context, id int, err error) {
	status, message, code := rentErrorStatus(err)
	if status == http.StatusInternalServerError {
		h.log.WithField("rent_id", id).WithError(err).Error("Rent request failed")
	}
	ErrorResponse(c, status, message, err.Error(), code)
}

// rentErrorStatus 把服務層錯誤對應到 HTTP 狀態碼
func rentErrorStatus(err error) (int, string, string) {
	var rerr *gateway.RemoteError
	if errors.As(err, &rerr) {
		status := rerr.StatusCode
		if status < 400 || status >= 500 {
			status = http.StatusBadGateway
		}
		code := rerr.Code
		if code == "" {
			code = "ERR_REMOTE"
		}
		return status, "遠端後台拒絕請求", code
	}
	switch {
	case errors.Is(err, services.ErrRentNotFound):
		return http.StatusNotFound, "找不到租賃紀錄", "ERR_RENT_NOT_FOUND"
	case errors.Is(err, services.ErrBalanceDue):
		return http.StatusConflict, "尚有未結清金額", "ERR_BALANCE_DUE"
	case errors.Is(err, services.ErrAlreadyCompleted):
		return http.StatusConflict, "租賃已完成", "ERR_ALREADY_COMPLETED"
	case errors.Is(err, services.ErrRentNotActive):
		return http.StatusConflict, "租賃不在進行中", "ERR_RENT_NOT_ACTIVE"
	case errors.Is(err, services.ErrInvalidRating):
		return http.StatusBadRequest, "無效的評分", "ERR_INVALID_RATING"
	default:
		return http.StatusInternalServerError, "伺服器錯誤", "ERR_INTERNAL_SERVER"
	}
}

func rentIDParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		ErrorResponse(c, http.StatusBadRequest, "無效的租賃 ID", "id must be a positive integer", "ERR_INVALID_ID")
		return 0, false
	}
	return id, true
}
