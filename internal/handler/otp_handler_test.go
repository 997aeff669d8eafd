package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"otp-service/internal/config"
	"otp-service/internal/model"
	"otp-service/internal/ratelimit"
	"otp-service/internal/service"
)

type memoryRepo struct {
	mu      sync.Mutex
	records map[string]*model.OTPRecord
}

func key(email string, purpose model.Purpose) string {
	return email + "|" + string(purpose)
}

func (r *memoryRepo) Insert(_ context.Context, record *model.OTPRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *record
	r.records[key(record.Email, record.Purpose)] = &clone
	return nil
}

func (r *memoryRepo) Latest(_ context.Context, email string, purpose model.Purpose) (*model.OTPRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[key(email, purpose)]
	if !ok {
		return nil, model.ErrNoRecord
	}
	clone := *record
	return &clone, nil
}

func (r *memoryRepo) CompareAndSetAttempts(_ context.Context, email string, purpose model.Purpose, expected, next int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[key(email, purpose)]
	if !ok || record.Attempts != expected {
		return false, nil
	}
	record.Attempts = next
	return true, nil
}

func (r *memoryRepo) Block(_ context.Context, email string, purpose model.Purpose, until time.Time, expectedAttempts int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[key(email, purpose)]
	if !ok || record.Attempts != expectedAttempts {
		return false, nil
	}
	record.Attempts = expectedAttempts + 1
	record.IsBlocked = true
	record.BlockedUntil = until
	return true, nil
}

func (r *memoryRepo) Unblock(_ context.Context, email string, purpose model.Purpose) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if record, ok := r.records[key(email, purpose)]; ok {
		record.IsBlocked = false
		record.BlockedUntil = time.Time{}
		record.Attempts = 0
	}
	return nil
}

func (r *memoryRepo) Delete(_ context.Context, email string, purpose model.Purpose) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, key(email, purpose))
	return nil
}

func (r *memoryRepo) DeleteStale(_ context.Context, _ time.Time) (int, error) {
	return 0, nil
}

type stubLimiter struct {
	decision *ratelimit.Decision
}

func (l *stubLimiter) Check(_ context.Context, _, _ string) (*ratelimit.Decision, error) {
	return l.decision, nil
}

type nopAuditor struct{}

func (nopAuditor) Record(_ context.Context, _, _ string, _ model.Purpose, _ model.RequestContext, _ int, _ string) {
}

type captureDispatcher struct {
	mu    sync.Mutex
	codes map[string]string
	err   error
}

func (d *captureDispatcher) DispatchCode(_ context.Context, email string, purpose model.Purpose, code string, _ time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.codes[key(email, purpose)] = code
	return nil
}

type healthyChecker struct{}

func (healthyChecker) HealthCheck() map[string]string {
	return map[string]string{"scylla": "healthy", "redis": "healthy"}
}

func newTestRouter() (http.Handler, *captureDispatcher, *stubLimiter) {
	repo := &memoryRepo{records: make(map[string]*model.OTPRecord)}
	limiter := &stubLimiter{decision: &ratelimit.Decision{Allowed: true, Count: 1}}
	cfg := config.OTPConfig{
		CodeLength:    6,
		SaltBytes:     32,
		Expiry:        10 * time.Minute,
		MaxAttempts:   5,
		BlockDuration: 30 * time.Minute,
	}
	svc := service.NewOTPService(repo, limiter, nopAuditor{}, cfg, zap.NewNop())
	dispatcher := &captureDispatcher{codes: make(map[string]string)}
	otpHandler := NewOTPHandler(svc, dispatcher, zap.NewNop())
	return NewRouter(otpHandler, healthyChecker{}, false, zap.NewNop()), dispatcher, limiter
}

func doJSON(t *testing.T, router http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	r := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	r.Header.Set("Content-Type", "application/json")
	r.RemoteAddr = "203.0.113.7:51000"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var response Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &response))
	return response
}

func TestRequestOTPHappyPath(t *testing.T) {
	router, dispatcher, _ := newTestRouter()

	w := doJSON(t, router, "/api/v1/otp/request", requestOTPBody{
		Email:   "User@Example.com",
		Purpose: "email-verification",
	})
	require.Equal(t, http.StatusOK, w.Code)

	response := decodeResponse(t, w)
	assert.True(t, response.Success)

	code := dispatcher.codes[key("user@example.com", model.PurposeEmailVerification)]
	require.Len(t, code, 6)
	assert.NotContains(t, w.Body.String(), code)
}

func TestRequestOTPRejectsBadInput(t *testing.T) {
	router, _, _ := newTestRouter()

	w := doJSON(t, router, "/api/v1/otp/request", requestOTPBody{
		Email:   "not-an-email",
		Purpose: "email-verification",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errInvalidRequest, decodeResponse(t, w).Error)

	w = doJSON(t, router, "/api/v1/otp/request", requestOTPBody{
		Email:   "user@example.com",
		Purpose: "account-takeover",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestOTPRateLimited(t *testing.T) {
	router, _, limiter := newTestRouter()
	limiter.decision = &ratelimit.Decision{Allowed: false, Reason: "email quota exceeded", RetryAfter: 90}

	w := doJSON(t, router, "/api/v1/otp/request", requestOTPBody{
		Email:   "user@example.com",
		Purpose: "email-verification",
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "90", w.Header().Get("Retry-After"))
	assert.Equal(t, string(model.CodeRateLimited), decodeResponse(t, w).Error)
}

func TestVerifyOTPRoundTrip(t *testing.T) {
	router, dispatcher, _ := newTestRouter()

	w := doJSON(t, router, "/api/v1/otp/request", requestOTPBody{
		Email:   "user@example.com",
		Purpose: "password-reset",
	})
	require.Equal(t, http.StatusOK, w.Code)
	code := dispatcher.codes[key("user@example.com", model.PurposePasswordReset)]
	require.NotEmpty(t, code)

	w = doJSON(t, router, "/api/v1/otp/verify", verifyOTPBody{
		Email:   "user@example.com",
		Purpose: "password-reset",
		Code:    code,
	})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decodeResponse(t, w).Success)

	// The code is single-use.
	w = doJSON(t, router, "/api/v1/otp/verify", verifyOTPBody{
		Email:   "user@example.com",
		Purpose: "password-reset",
		Code:    code,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, string(model.CodeNoOTPFound), decodeResponse(t, w).Error)
}

func TestVerifyOTPWrongCodeThenLockout(t *testing.T) {
	router, dispatcher, _ := newTestRouter()

	w := doJSON(t, router, "/api/v1/otp/request", requestOTPBody{
		Email:   "user@example.com",
		Purpose: "email-verification",
	})
	require.Equal(t, http.StatusOK, w.Code)
	code := dispatcher.codes[key("user@example.com", model.PurposeEmailVerification)]

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	for i := 0; i < 4; i++ {
		w = doJSON(t, router, "/api/v1/otp/verify", verifyOTPBody{
			Email:   "user@example.com",
			Purpose: "email-verification",
			Code:    wrong,
		})
		require.Equal(t, http.StatusBadRequest, w.Code)
		require.Equal(t, string(model.CodeInvalidOTP), decodeResponse(t, w).Error)
	}

	w = doJSON(t, router, "/api/v1/otp/verify", verifyOTPBody{
		Email:   "user@example.com",
		Purpose: "email-verification",
		Code:    wrong,
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, string(model.CodeMaxAttemptsExceeded), decodeResponse(t, w).Error)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))

	// The real code is refused while blocked.
	w = doJSON(t, router, "/api/v1/otp/verify", verifyOTPBody{
		Email:   "user@example.com",
		Purpose: "email-verification",
		Code:    code,
	})
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, string(model.CodeBlocked), decodeResponse(t, w).Error)
}

func TestVerifyOTPRequiresCode(t *testing.T) {
	router, _, _ := newTestRouter()

	w := doJSON(t, router, "/api/v1/otp/verify", verifyOTPBody{
		Email:   "user@example.com",
		Purpose: "email-verification",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errInvalidRequest, decodeResponse(t, w).Error)
}

func TestHealthEndpoints(t *testing.T) {
	router, _, _ := newTestRouter()

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)

	r = httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "scylla")
}
