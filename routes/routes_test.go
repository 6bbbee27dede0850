package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"fleetrent/database"
	"fleetrent/gateway"
	"fleetrent/handlers"
	"fleetrent/models"
	"fleetrent/services"
	"fleetrent/settlement"
	"fleetrent/utils"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type envelope struct {
	Status  bool                `json:"status"`
	Message string              `json:"message"`
	Code    string              `json:"code"`
	Errors  map[string][]string `json:"errors"`
	Data    json.RawMessage     `json:"data"`
}

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	require.NoError(t, utils.InitJWTSecret("routes-test-secret"))

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.Migrate(db))

	log := logrus.New()
	log.SetOutput(io.Discard)

	payments := services.NewPaymentService(db, log)
	rents := services.NewRentService(db, settlement.DefaultPolicy(), log)
	store := services.NewSessionStore(payments, rents.Finalizer(), rents, rents.Policy(), time.Minute, log)

	r := gin.New()
	Path(r.Group("/api"), Handlers{
		Payments:    handlers.NewPaymentHandler(payments, log),
		Rents:       handlers.NewRentHandler(rents, log),
		Settlements: handlers.NewSettlementHandler(store, log),
	})
	return r, db
}

func seed(t *testing.T, db *gorm.DB, total, paid string) models.Rent {
	t.Helper()
	client := models.Client{Name: "Chen"}
	require.NoError(t, db.Create(&client).Error)
	vehicle := models.Vehicle{LicensePlate: "RT-" + strconv.Itoa(client.ClientID), Status: models.VehicleStatusRented}
	require.NoError(t, db.Create(&vehicle).Error)
	rent := models.Rent{
		ClientID:     client.ClientID,
		LicensePlate: vehicle.LicensePlate,
		StartTime:    time.Now().Add(-48 * time.Hour),
		EndTime:      time.Now(),
		Status:       models.RentStatusInProgress,
		TotalAmount:  decimal.RequireFromString(total),
		PaidAmount:   decimal.RequireFromString(paid),
	}
	rent.SyncPaymentState()
	require.NoError(t, db.Create(&rent).Error)
	return rent
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	token, err := utils.GenerateToken(1, role, time.Hour)
	require.NoError(t, err)
	return "Bearer " + token
}

func call(t *testing.T, r *gin.Engine, method, path, auth string, body any) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

func TestPing(t *testing.T) {
	r, _ := setupRouter(t)
	w, env := call(t, r, http.MethodGet, "/api/v1/ping", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", env.Message)
}

func TestAuthMiddleware(t *testing.T) {
	r, _ := setupRouter(t)

	w, env := call(t, r, http.MethodGet, "/api/v1/rents/active", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "ERR_NO_AUTH_HEADER", env.Code)

	w, env = call(t, r, http.MethodGet, "/api/v1/rents/active", "Token abc", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "ERR_INVALID_AUTH_FORMAT", env.Code)

	expired, err := utils.GenerateToken(1, utils.RoleAgent, -time.Minute)
	require.NoError(t, err)
	w, env = call(t, r, http.MethodGet, "/api/v1/rents/active", "Bearer "+expired, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "ERR_TOKEN_EXPIRED", env.Code)

	noExp := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"employee_id": 1, "role": utils.RoleAgent})
	signed, err := noExp.SignedString(utils.JWTSecret)
	require.NoError(t, err)
	w, env = call(t, r, http.MethodGet, "/api/v1/rents/active", "Bearer "+signed, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "ERR_INVALID_TOKEN", env.Code)

	renter := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"employee_id": 1,
		"role":        "renter",
		"exp":         time.Now().Add(time.Hour).Unix(),
	})
	signed, err = renter.SignedString(utils.JWTSecret)
	require.NoError(t, err)
	w, env = call(t, r, http.MethodGet, "/api/v1/rents/active", "Bearer "+signed, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "ERR_INVALID_ROLE", env.Code)

	w, _ = call(t, r, http.MethodGet, "/api/v1/rents/active", bearer(t, utils.RoleAdmin), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRoleMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/admin", func(c *gin.Context) { c.Set("role", utils.RoleAgent) }, RoleMiddleware(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.GET("/agent", func(c *gin.Context) { c.Set("role", utils.RoleAgent) }, RoleMiddleware(utils.RoleAgent), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/agent", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestSettlementFlowOverHTTP(t *testing.T) {
	r, db := setupRouter(t)
	rent := seed(t, db, "1000", "300")
	auth := bearer(t, utils.RoleAgent)

	w, env := call(t, r, http.MethodPost, "/api/v1/settlements", auth, gin.H{"rental_id": rent.RentID})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var opened struct {
		SessionID string           `json:"session_id"`
		State     settlement.State `json:"state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &opened))
	assert.Equal(t, settlement.StepAwaitingPayment, opened.State.Step)
	base := "/api/v1/settlements/" + opened.SessionID

	// 超過剩餘金額
	w, env = call(t, r, http.MethodPost, base+"/payments", auth, gin.H{"amount": "800"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, settlement.MsgAmountExceedsRemaining, env.Message)
	assert.Equal(t, []string{settlement.MsgAmountExceedsRemaining}, env.Errors["amount"])

	// 評分步驟之前不能完成
	w, env = call(t, r, http.MethodPost, base+"/finalize", auth, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ERR_WRONG_STEP", env.Code)

	w, _ = call(t, r, http.MethodPost, base+"/payments", auth, gin.H{"amount": 200})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = call(t, r, http.MethodPost, base+"/payments", auth, gin.H{"pay_remaining": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var paid struct {
		State settlement.State `json:"state"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &paid))
	assert.Equal(t, settlement.StepAwaitingRating, paid.State.Step)
	assert.True(t, paid.State.Summary.Remaining.IsZero())

	w, env = call(t, r, http.MethodPut, base+"/rating", auth, gin.H{"rating": 9})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, settlement.MsgRatingOutOfRange, env.Message)

	w, _ = call(t, r, http.MethodPut, base+"/rating", auth, gin.H{"rating": 4})
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = call(t, r, http.MethodPut, base+"/note", auth, gin.H{"note": "   "})
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = call(t, r, http.MethodPost, base+"/finalize", auth, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var got models.Rent
	require.NoError(t, db.First(&got, "rent_id = ?", rent.RentID).Error)
	assert.Equal(t, models.RentStatusCompleted, got.Status)
	require.NotNil(t, got.ClientRating)
	assert.Equal(t, 4, *got.ClientRating)
	assert.Nil(t, got.ClientNote)

	var count int64
	require.NoError(t, db.Model(&models.Payment{}).Where("rent_id = ?", rent.RentID).Count(&count).Error)
	assert.Equal(t, int64(2), count)

	w, env = call(t, r, http.MethodGet, base, auth, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ERR_SESSION_NOT_FOUND", env.Code)
}

func TestCloseSettlementLeavesRentOpen(t *testing.T) {
	r, db := setupRouter(t)
	rent := seed(t, db, "500", "0")
	auth := bearer(t, utils.RoleAgent)

	_, env := call(t, r, http.MethodPost, "/api/v1/settlements", auth, gin.H{"rental_id": rent.RentID})
	var opened struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &opened))

	w, _ := call(t, r, http.MethodDelete, "/api/v1/settlements/"+opened.SessionID, auth, nil)
	assert.Equal(t, http.StatusOK, w.Code)

	var got models.Rent
	require.NoError(t, db.First(&got, "rent_id = ?", rent.RentID).Error)
	assert.Equal(t, models.RentStatusInProgress, got.Status)
}

func TestRemoteSettlementSession(t *testing.T) {
	remote, remoteDB := setupRouter(t)
	srv := httptest.NewServer(remote)
	defer srv.Close()
	rent := seed(t, remoteDB, "1000", "300")

	token, err := utils.GenerateToken(2, utils.RoleAgent, time.Hour)
	require.NoError(t, err)
	base := srv.URL + "/api/v1"
	log := logrus.New()
	log.SetOutput(io.Discard)

	store := services.NewSessionStore(
		gateway.NewHTTPPaymentGateway(base, token, 5*time.Second, log),
		gateway.NewHTTPFinalizer(base, token, 5*time.Second, log).Func(),
		gateway.NewHTTPRecordLoader(base, token, 5*time.Second, log),
		settlement.DefaultPolicy(), time.Minute, log,
	)

	sess, state, err := store.Open(context.Background(), rent.RentID)
	require.NoError(t, err)
	assert.Equal(t, settlement.StepAwaitingPayment, state.Step)
	assert.Equal(t, "700", state.Summary.Remaining.String())

	require.NoError(t, sess.Controller.SubmitPayment(context.Background(), settlement.NewAmount(200)))
	state, err = store.Reload(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.StepAwaitingPayment, state.Step)
	assert.Equal(t, "500", state.Summary.Remaining.String())

	require.NoError(t, sess.Controller.PayRemaining(context.Background()))
	// 遠端已結清，重新載入不會退回付款步驟
	state, err = store.Reload(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, settlement.StepAwaitingRating, state.Step)

	require.NoError(t, sess.Controller.SetRating(5))
	require.NoError(t, store.Finalize(context.Background(), sess.ID))

	var got models.Rent
	require.NoError(t, remoteDB.First(&got, "rent_id = ?", rent.RentID).Error)
	assert.Equal(t, models.RentStatusCompleted, got.Status)
	assert.Equal(t, "1000", got.PaidAmount.String())

	// 遠端已完成的租賃不能再開啟結算
	_, _, err = store.Open(context.Background(), rent.RentID)
	assert.ErrorIs(t, err, services.ErrAlreadyCompleted)

	_, _, err = store.Open(context.Background(), 4040)
	var rerr *gateway.RemoteError
	require.ErrorAs(t, err, &rerr)
	assert.Equal(t, http.StatusNotFound, rerr.StatusCode)
}
