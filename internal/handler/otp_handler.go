package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"otp-service/internal/clientip"
	"otp-service/internal/model"
	"otp-service/internal/service"
	"otp-service/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CodeDispatcher hands a freshly issued code to the delivery pipeline.
type CodeDispatcher interface {
	DispatchCode(ctx context.Context, email string, purpose model.Purpose, code string, expiresAt time.Time) error
}

// OTPHandler handles HTTP requests for OTP operations
type OTPHandler struct {
	otpService *service.OTPService
	dispatcher CodeDispatcher
	logger     *zap.Logger
}

// NewOTPHandler creates a new OTP handler
func NewOTPHandler(otpService *service.OTPService, dispatcher CodeDispatcher, logger *zap.Logger) *OTPHandler {
	return &OTPHandler{
		otpService: otpService,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

// successResponse creates a successful response
func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// errorResponse creates an error response
func errorResponse(code, message string) Response {
	return Response{
		Success: false,
		Error:   code,
		Message: message,
	}
}

// errInvalidRequest marks request-shape problems caught before the service
// is invoked.
const errInvalidRequest = "INVALID_REQUEST"

// requestContext extracts request provenance. A user agent carrying obvious
// injection payloads is dropped rather than stored.
func requestContext(r *http.Request) model.RequestContext {
	userAgent := r.UserAgent()
	if util.ContainsSuspicious(userAgent) {
		userAgent = ""
	}
	return model.RequestContext{
		IPAddress: clientip.FromRequest(r),
		UserAgent: userAgent,
	}
}

type requestOTPBody struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
}

type verifyOTPBody struct {
	Email   string `json:"email"`
	Purpose string `json:"purpose"`
	Code    string `json:"code"`
}

// RegisterRoutes registers all OTP routes
func (h *OTPHandler) RegisterRoutes(router chi.Router) {
	router.Route("/otp", func(r chi.Router) {
		r.Post("/request", h.RequestOTP)
		r.Post("/verify", h.VerifyOTP)
	})
}

// RequestOTP handles code issuance
// @Summary Request a verification code
// @Description Issue a one-time code for the given email and purpose
// @Tags otp
// @Accept json
// @Produce json
// @Param request body requestOTPBody true "Issuance request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 429 {object} Response
// @Failure 500 {object} Response
// @Router /otp/request [post]
func (h *OTPHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var body requestOTPBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondBadRequest(w, "Invalid request body")
		return
	}

	email := util.NormalizeEmail(body.Email)
	if !util.ValidEmail(email) {
		h.respondBadRequest(w, "A valid email address is required")
		return
	}
	purpose, err := model.ParsePurpose(body.Purpose)
	if err != nil {
		h.respondBadRequest(w, "Unknown purpose")
		return
	}

	reqCtx := requestContext(r)

	result := h.otpService.Issue(ctx, email, purpose, reqCtx)
	if !result.Success {
		h.respondServiceError(w, result.ErrorCode, result.Message, result.RetryAfter)
		return
	}

	// Delivery is asynchronous; a dispatch failure is not surfaced because
	// the caller can simply request again. The code itself never appears in
	// the HTTP response.
	if err := h.dispatcher.DispatchCode(ctx, email, purpose, result.Code, result.ExpiresAt); err != nil {
		h.logger.Error("Failed to dispatch code for delivery",
			util.ErrorField(err),
			util.String("purpose", string(purpose)),
		)
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(map[string]interface{}{
		"expires_at": result.ExpiresAt,
	}, result.Message))
	h.logger.Info("OTP requested via HTTP",
		util.String("purpose", string(purpose)),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "RequestOTP"),
	)
}

// VerifyOTP handles code verification
// @Summary Verify a code
// @Description Check a submitted code against the outstanding one
// @Tags otp
// @Accept json
// @Produce json
// @Param request body verifyOTPBody true "Verification request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 429 {object} Response
// @Failure 500 {object} Response
// @Router /otp/verify [post]
func (h *OTPHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var body verifyOTPBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.respondBadRequest(w, "Invalid request body")
		return
	}

	email := util.NormalizeEmail(body.Email)
	if !util.ValidEmail(email) {
		h.respondBadRequest(w, "A valid email address is required")
		return
	}
	purpose, err := model.ParsePurpose(body.Purpose)
	if err != nil {
		h.respondBadRequest(w, "Unknown purpose")
		return
	}
	if body.Code == "" {
		h.respondBadRequest(w, "Code is required")
		return
	}

	reqCtx := requestContext(r)

	result := h.otpService.Verify(ctx, email, body.Code, purpose, reqCtx)
	if !result.Success {
		response := errorResponse(string(result.ErrorCode), result.Message)
		if result.RemainingAttempts > 0 {
			response.Data = map[string]interface{}{
				"remaining_attempts": result.RemainingAttempts,
			}
		}
		status := statusForError(result.ErrorCode)
		if result.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
		}
		h.respondWithJSON(w, status, response)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(nil, result.Message))
	h.logger.Info("OTP verified via HTTP",
		util.String("purpose", string(purpose)),
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "VerifyOTP"),
	)
}

// respondWithJSON sends a JSON response
func (h *OTPHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *OTPHandler) respondBadRequest(w http.ResponseWriter, message string) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(errors.New(message)),
		util.Int("status_code", http.StatusBadRequest),
	)
	h.respondWithJSON(w, http.StatusBadRequest, errorResponse(errInvalidRequest, message))
}

func (h *OTPHandler) respondServiceError(w http.ResponseWriter, code model.ErrorCode, message string, retryAfter int) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	h.respondWithJSON(w, statusForError(code), errorResponse(string(code), message))
}

// statusForError determines the appropriate HTTP status code for a result
func statusForError(code model.ErrorCode) int {
	switch code {
	case model.CodeRateLimited, model.CodeBlocked, model.CodeMaxAttemptsExceeded:
		return http.StatusTooManyRequests
	case model.CodeInvalidOTP, model.CodeExpired, model.CodeNoOTPFound:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
