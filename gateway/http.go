package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"fleetrent/settlement"

	"github.com/sirupsen/logrus"
)

// remoteResponse 遠端 API 的回應格式
type remoteResponse struct {
	Status  bool                `json:"status"`
	Message string              `json:"message"`
	Error   string              `json:"error"`
	Code    string              `json:"code"`
	Errors  map[string][]string `json:"errors"`
	Data    json.RawMessage     `json:"data"`
}

// client 共用的 HTTP 呼叫
type client struct {
	baseURL string
	token   string
	http    *http.Client
	log     logrus.FieldLogger
}

func newClient(baseURL, token string, timeout time.Duration, log logrus.FieldLogger) client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

func (c client) post(ctx context.Context, path string, body any, headers map[string]string) (int, remoteResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return 0, remoteResponse{}, fmt.Errorf("encode request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(raw), headers)
}

func (c client) get(ctx context.Context, path string) (int, remoteResponse, error) {
	return c.do(ctx, http.MethodGet, path, nil, nil)
}

func (c client) do(ctx context.Context, method, path string, body io.Reader, headers map[string]string) (int, remoteResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, remoteResponse{}, fmt.Errorf("build request to %s: %w", path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, remoteResponse{}, fmt.Errorf("send request to %s: %w", path, err)
	}
	defer resp.Body.Close()

	var out remoteResponse
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, out, fmt.Errorf("read response from %s: %w", path, err)
	}
	if len(respBody) > 0 {
		if err := json.Unmarshal(respBody, &out); err != nil {
			c.log.WithFields(logrus.Fields{
				"path":   path,
				"status": resp.StatusCode,
			}).WithError(err).Debug("Response body is not JSON")
		}
	}
	return resp.StatusCode, out, nil
}

// HTTPPaymentGateway 把付款送到遠端後台的 POST /payments
type HTTPPaymentGateway struct {
	client
}

func NewHTTPPaymentGateway(baseURL, token string, timeout time.Duration, log logrus.FieldLogger) *HTTPPaymentGateway {
	return &HTTPPaymentGateway{client: newClient(baseURL, token, timeout, log)}
}

// SubmitPayment 4xx 為不可重試的錯誤，連線失敗與 5xx 標記為暫時性
func (g *HTTPPaymentGateway) SubmitPayment(ctx context.Context, sub settlement.PaymentSubmission) error {
	var headers map[string]string
	if sub.IdempotencyKey != "" {
		headers = map[string]string{"Idempotency-Key": sub.IdempotencyKey}
	}

	status, body, err := g.post(ctx, "/payments", sub, headers)
	if err != nil {
		return &settlement.GatewayError{
			StatusCode: status,
			Temporary:  ctx.Err() == nil,
			Err:        err,
		}
	}
	if status >= 200 && status < 300 {
		return nil
	}

	gerr := &settlement.GatewayError{
		Message:     body.Message,
		FieldErrors: body.Errors,
		StatusCode:  status,
		Temporary:   status >= 500 || status == http.StatusTooManyRequests,
	}
	if gerr.Message == "" && len(gerr.FieldErrors) == 0 && body.Error != "" {
		gerr.Message = body.Error
	}
	g.log.WithFields(logrus.Fields{
		"rental_id": sub.RentalID,
		"status":    status,
	}).Warn("Remote payment rejected")
	return gerr
}

// RemoteError 遠端完成租賃失敗
type RemoteError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RemoteError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	return "remote responded " + strconv.Itoa(e.StatusCode) + ": " + msg
}

// ErrRemoteBalanceDue 遠端因仍有欠款拒絕完成
var ErrRemoteBalanceDue = errors.New("remote refused completion: balance due")

// HTTPFinalizer 呼叫遠端 POST /rents/{id}/complete
type HTTPFinalizer struct {
	client
}

func NewHTTPFinalizer(baseURL, token string, timeout time.Duration, log logrus.FieldLogger) *HTTPFinalizer {
	return &HTTPFinalizer{client: newClient(baseURL, token, timeout, log)}
}

// Complete 完成遠端的租賃
func (f *HTTPFinalizer) Complete(ctx context.Context, r settlement.Record, p settlement.FinalizationPayload) error {
	path := "/rents/" + strconv.Itoa(r.ID) + "/complete"
	status, body, err := f.post(ctx, path, p, nil)
	if err != nil {
		return fmt.Errorf("complete rent %d: %w", r.ID, err)
	}
	if status >= 200 && status < 300 {
		return nil
	}
	rerr := &RemoteError{StatusCode: status, Code: body.Code, Message: body.Message}
	if body.Code == "ERR_BALANCE_DUE" {
		return fmt.Errorf("complete rent %d: %w: %w", r.ID, ErrRemoteBalanceDue, rerr)
	}
	return fmt.Errorf("complete rent %d: %w", r.ID, rerr)
}

// Func 轉成 settlement.FinalizeFunc
func (f *HTTPFinalizer) Func() settlement.FinalizeFunc {
	return f.Complete
}

// HTTPRecordLoader 由遠端 GET /rents/{id}/summary 讀取結算所需的租賃資料
type HTTPRecordLoader struct {
	client
}

func NewHTTPRecordLoader(baseURL, token string, timeout time.Duration, log logrus.FieldLogger) *HTTPRecordLoader {
	return &HTTPRecordLoader{client: newClient(baseURL, token, timeout, log)}
}

// remoteRent 遠端租賃摘要中用得到的欄位
type remoteRent struct {
	RentID        int    `json:"rent_id"`
	ClientID      int    `json:"client_id"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Summary       struct {
		Total     settlement.Amount `json:"total"`
		Paid      settlement.Amount `json:"paid"`
		Remaining settlement.Amount `json:"remaining"`
	} `json:"summary"`
}

// LoadRecord 遠端的剩餘金額作為快取值
func (l *HTTPRecordLoader) LoadRecord(ctx context.Context, rentalID int) (settlement.Record, error) {
	status, body, err := l.get(ctx, "/rents/"+strconv.Itoa(rentalID)+"/summary")
	if err != nil {
		return settlement.Record{}, fmt.Errorf("load rent %d: %w", rentalID, err)
	}
	if status < 200 || status >= 300 {
		return settlement.Record{}, fmt.Errorf("load rent %d: %w", rentalID, &RemoteError{StatusCode: status, Code: body.Code, Message: body.Message})
	}

	var rent remoteRent
	if err := json.Unmarshal(body.Data, &rent); err != nil {
		return settlement.Record{}, fmt.Errorf("decode rent %d: %w", rentalID, err)
	}
	if rent.RentID != rentalID {
		return settlement.Record{}, fmt.Errorf("load rent %d: remote returned rent %d", rentalID, rent.RentID)
	}
	return settlement.Record{
		ID:              rent.RentID,
		Status:          rent.Status,
		TotalAmount:     rent.Summary.Total,
		PaidAmount:      rent.Summary.Paid,
		CachedRemaining: rent.Summary.Remaining,
		PaymentStatus:   rent.PaymentStatus,
		ClientID:        rent.ClientID,
	}, nil
}
