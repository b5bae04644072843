package httpapi

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/diopweb/Sofalia-v7/internal/domain"
	"github.com/diopweb/Sofalia-v7/internal/service"
	"github.com/diopweb/Sofalia-v7/internal/store"
)

const maxBodyBytes = 1 << 20

type API struct {
	service       *service.Service
	auth          *AuthManager
	logger        *zap.Logger
	allowedOrigin string
	loginLimiter  *attemptLimiter
	csrfSecret    []byte
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	csrfSecret := make([]byte, 32)
	if _, err := rand.Read(csrfSecret); err != nil {
		csrfSecret = []byte("csrf-fallback-secret-change-me!!")
	}
	return &API{
		service:       svc,
		auth:          auth,
		logger:        logger.Named("http"),
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		csrfSecret:    csrfSecret,
	}
}

// csrfTokenForHour computes an HMAC-SHA256 token for the given hour bucket
// (Unix time truncated to the hour), hex-encoded.
func (a *API) csrfTokenForHour(hourBucket int64) string {
	h := hmac.New(sha256.New, a.csrfSecret)
	fmt.Fprintf(h, "%d", hourBucket)
	return hex.EncodeToString(h.Sum(nil))
}

func (a *API) generateCSRFToken() string {
	bucket := time.Now().UTC().Truncate(time.Hour).Unix()
	return a.csrfTokenForHour(bucket)
}

// validateCSRFToken accepts tokens from the current or previous hour bucket.
func (a *API) validateCSRFToken(token string) bool {
	if token == "" {
		return false
	}
	currentBucket := time.Now().UTC().Truncate(time.Hour).Unix()
	prevBucket := currentBucket - 3600

	return hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(currentBucket))) ||
		hmac.Equal([]byte(token), []byte(a.csrfTokenForHour(prevBucket)))
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	l.entries[key] = append(kept, now)
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

const (
	anyRole   = ""
	adminOnly = domain.RoleAdmin
)

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", a.handleHealth)
	mux.HandleFunc("POST /api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("GET /api/v1/auth/csrf-token", a.handleCSRFToken)

	mux.HandleFunc("GET /api/v1/products", a.requireAuth(a.handleListProducts, anyRole))
	mux.HandleFunc("POST /api/v1/products", a.requireAuth(a.handleCreateProduct, adminOnly))
	mux.HandleFunc("GET /api/v1/products/{id}", a.requireAuth(a.handleGetProduct, anyRole))
	mux.HandleFunc("PATCH /api/v1/products/{id}", a.requireAuth(a.handleUpdateProduct, adminOnly))
	mux.HandleFunc("DELETE /api/v1/products/{id}", a.requireAuth(a.handleDeleteProduct, adminOnly))
	mux.HandleFunc("GET /api/v1/products/{id}/stock", a.requireAuth(a.handleProductStock, anyRole))

	mux.HandleFunc("GET /api/v1/categories", a.requireAuth(a.handleListCategories, anyRole))
	mux.HandleFunc("POST /api/v1/categories", a.requireAuth(a.handleCreateCategory, adminOnly))
	mux.HandleFunc("PATCH /api/v1/categories/{id}", a.requireAuth(a.handleUpdateCategory, adminOnly))
	mux.HandleFunc("DELETE /api/v1/categories/{id}", a.requireAuth(a.handleDeleteCategory, adminOnly))

	mux.HandleFunc("GET /api/v1/customers", a.requireAuth(a.handleListCustomers, anyRole))
	mux.HandleFunc("POST /api/v1/customers", a.requireAuth(a.handleCreateCustomer, anyRole))
	mux.HandleFunc("GET /api/v1/customers/{id}", a.requireAuth(a.handleGetCustomer, anyRole))
	mux.HandleFunc("PATCH /api/v1/customers/{id}", a.requireAuth(a.handleUpdateCustomer, anyRole))
	mux.HandleFunc("DELETE /api/v1/customers/{id}", a.requireAuth(a.handleDeleteCustomer, adminOnly))
	mux.HandleFunc("GET /api/v1/customers/{id}/statement", a.requireAuth(a.handleCustomerStatement, anyRole))
	mux.HandleFunc("POST /api/v1/customers/{id}/deposits", a.requireAuth(a.handleCreateDeposit, anyRole))

	mux.HandleFunc("GET /api/v1/sales", a.requireAuth(a.handleListSales, anyRole))
	mux.HandleFunc("POST /api/v1/sales", a.requireAuth(a.handleCreateSale, anyRole))
	mux.HandleFunc("GET /api/v1/sales/{id}", a.requireAuth(a.handleGetSale, anyRole))
	mux.HandleFunc("POST /api/v1/sales/{id}/payments", a.requireAuth(a.handleApplyPayment, anyRole))
	mux.HandleFunc("POST /api/v1/sales/{id}/refund", a.requireAuth(a.handleRefundSale, adminOnly))

	mux.HandleFunc("GET /api/v1/debts", a.requireAuth(a.handleListDebts, anyRole))
	mux.HandleFunc("GET /api/v1/payments", a.requireAuth(a.handleListPayments, anyRole))
	mux.HandleFunc("GET /api/v1/refunds", a.requireAuth(a.handleListRefunds, anyRole))
	mux.HandleFunc("GET /api/v1/deposits", a.requireAuth(a.handleListDeposits, anyRole))

	mux.HandleFunc("GET /api/v1/reports/reorder", a.requireAuth(a.handleReorderReport, anyRole))
	mux.HandleFunc("GET /api/v1/reports/summary", a.requireAuth(a.handleSalesSummary, anyRole))
	mux.HandleFunc("GET /api/v1/ledger/reconcile", a.requireAuth(a.handleReconcile, adminOnly))

	mux.HandleFunc("GET /api/v1/company-profile", a.requireAuth(a.handleGetCompanyProfile, anyRole))
	mux.HandleFunc("PUT /api/v1/company-profile", a.requireAuth(a.handleUpdateCompanyProfile, adminOnly))

	mux.HandleFunc("GET /api/v1/events", a.requireAuth(a.handleEvents, anyRole))
	mux.HandleFunc("GET /api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, adminOnly))
	mux.HandleFunc("GET /api/v1/users", a.requireAuth(a.handleListUsers, adminOnly))
	mux.HandleFunc("POST /api/v1/users", a.requireAuth(a.handleCreateUser, adminOnly))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if role != anyRole && actor.Role != role {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

// csrfExemptPaths are called before a client can hold a CSRF token.
var csrfExemptPaths = []string{
	"/api/v1/auth/login",
}

// checkCSRF enforces CSRF token validation for state-changing methods.
func (a *API) checkCSRF(w http.ResponseWriter, r *http.Request) bool {
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
	default:
		return true
	}
	for _, exempt := range csrfExemptPaths {
		if r.URL.Path == exempt {
			return true
		}
	}
	token := strings.TrimSpace(r.Header.Get("X-CSRF-Token"))
	if !a.validateCSRFToken(token) {
		writeError(w, http.StatusForbidden, errors.New("missing or invalid CSRF token"))
		return false
	}
	return true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if !a.checkCSRF(w, r) {
			return
		}

		startedAt := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(startedAt)),
		)
	})
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientStock), errors.Is(err, domain.ErrOverPayment):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransactionFailed), errors.Is(err, store.ErrConflict):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidCustomer), errors.Is(err, domain.ErrInsufficientCredit):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders err with its mapped status. Stock shortfalls
// carry the availability so the client can adjust the cart.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err),
		)
	}

	var stockErr *domain.InsufficientStockError
	if errors.As(err, &stockErr) {
		writeJSON(w, status, map[string]any{
			"error":     err.Error(),
			"productId": stockErr.ProductID,
			"variantId": stockErr.VariantID,
			"requested": stockErr.Requested,
			"available": stockErr.Available,
		})
		return
	}

	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) && len(validationErr.Details) > 0 {
		writeJSON(w, status, map[string]any{
			"error":   err.Error(),
			"details": validationErr.Details,
		})
		return
	}

	writeError(w, status, err)
}

func writeError(w http.ResponseWriter, status int, err error) {
	// Internal errors stay generic; details go to the log.
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
