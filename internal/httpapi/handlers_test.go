package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diopweb/Sofalia-v7/internal/domain"
	"github.com/diopweb/Sofalia-v7/internal/service"
	"github.com/diopweb/Sofalia-v7/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded(nil)
	svc := service.New(repo, nil, nil, 0)
	auth := NewAuthManager(context.Background(), "test-secret-key", time.Hour, repo)

	return New(svc, auth, "*", nil)
}

func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code)

	var payload map[string]string
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	require.NotEmpty(t, payload["csrf_token"])
	return payload["csrf_token"]
}

func loginAs(t *testing.T, api *API, username string, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())

	var payload domain.LoginResponse
	require.NoError(t, json.NewDecoder(res.Body).Decode(&payload))
	require.NotEmpty(t, payload.AccessToken)
	return payload.AccessToken
}

// doJSON sends an authenticated request, attaching a CSRF token to mutations.
func doJSON(t *testing.T, api *API, method string, path string, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if method != http.MethodGet {
		req.Header.Set("X-CSRF-Token", fetchCSRFToken(t, api))
	}
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func decodeBody[T any](t *testing.T, res *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&out), res.Body.String())
	return out
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]any](t, rec)
	assert.Equal(t, true, body["ok"])
}

func TestHandleLogin(t *testing.T) {
	api := newTestAPI(t)

	token := loginAs(t, api, "seller", "seller123")
	assert.NotEmpty(t, token)

	payload, _ := json.Marshal(map[string]string{"username": "admin", "password": "wrongpassword"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.RemoteAddr = "192.0.2.9:1234"
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHandleProductsRequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSellerCannotManageCatalog(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "seller", "seller123")

	res := doJSON(t, api, http.MethodGet, "/api/v1/products", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	products := decodeBody[map[string][]domain.Product](t, res)
	assert.Len(t, products["products"], 3)

	res = doJSON(t, api, http.MethodPost, "/api/v1/products", token, domain.ProductRequest{Name: "Mug", Price: 10})
	assert.Equal(t, http.StatusForbidden, res.Code)
}

func TestProductStockEndpoint(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "seller", "seller123")

	res := doJSON(t, api, http.MethodGet, "/api/v1/products/p3/stock", token, nil)
	require.Equal(t, http.StatusOK, res.Code)
	view := decodeBody[domain.ProductStock](t, res)
	require.Len(t, view.Stock, 1)
	assert.Equal(t, 5, view.Stock[0].Available)

	res = doJSON(t, api, http.MethodGet, "/api/v1/products/nope/stock", token, nil)
	assert.Equal(t, http.StatusNotFound, res.Code)
}

func TestSaleLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	seller := loginAs(t, api, "seller", "seller123")
	admin := loginAs(t, api, "admin", "admin123")

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", seller, domain.SaleRequest{
		CustomerID: "cust-1",
		PaidAmount: 100,
		Items:      []domain.CartItem{{ProductID: "p1", Quantity: 2}},
	})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	sale := decodeBody[map[string]domain.Sale](t, res)["sale"]
	assert.Equal(t, "FAC-00001", sale.InvoiceID)
	assert.Equal(t, domain.SaleStatusPartiallyPaid, sale.Status)

	res = doJSON(t, api, http.MethodPost, "/api/v1/sales/"+sale.ID+"/payments", seller, domain.PaymentRequest{Amount: 150})
	assert.Equal(t, http.StatusConflict, res.Code)

	res = doJSON(t, api, http.MethodGet, "/api/v1/debts?customer_id=cust-1", seller, nil)
	require.Equal(t, http.StatusOK, res.Code)
	debts := decodeBody[map[string][]domain.Sale](t, res)["debts"]
	require.Len(t, debts, 1)

	res = doJSON(t, api, http.MethodPost, "/api/v1/sales/"+sale.ID+"/refund", seller, domain.RefundRequest{Reason: "x"})
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = doJSON(t, api, http.MethodPost, "/api/v1/sales/"+sale.ID+"/refund", admin, domain.RefundRequest{Reason: "customer changed mind"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	refund := decodeBody[map[string]domain.Refund](t, res)["refund"]
	assert.Equal(t, "REF-00001", refund.RefundNumber)
	assert.Equal(t, int64(100), refund.DebtCancelled)

	res = doJSON(t, api, http.MethodGet, "/api/v1/customers/cust-1/statement", seller, nil)
	require.Equal(t, http.StatusOK, res.Code)
	statement := decodeBody[domain.CustomerStatement](t, res)
	assert.Equal(t, int64(0), statement.Customer.Balance)
	assert.Equal(t, statement.ExpectedBalance, statement.Customer.Balance)

	res = doJSON(t, api, http.MethodGet, "/api/v1/ledger/reconcile", admin, nil)
	require.Equal(t, http.StatusOK, res.Code)
	report := decodeBody[domain.ReconcileReport](t, res)
	assert.Empty(t, report.Discrepancies)
}

func TestInsufficientStockReportsAvailability(t *testing.T) {
	api := newTestAPI(t)
	seller := loginAs(t, api, "seller", "seller123")

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", seller, domain.SaleRequest{
		CustomerID: "cust-1",
		Items:      []domain.CartItem{{ProductID: "p3", Quantity: 6}},
	})
	require.Equal(t, http.StatusConflict, res.Code)

	body := decodeBody[map[string]any](t, res)
	assert.Equal(t, "p3", body["productId"])
	assert.EqualValues(t, 5, body["available"])
}

func TestSaleRejectsUnknownFields(t *testing.T) {
	api := newTestAPI(t)
	seller := loginAs(t, api, "seller", "seller123")

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", seller, map[string]any{
		"customerId": "cust-1",
		"items":      []map[string]any{{"productId": "p1", "quantity": 1}},
		"total":      1,
	})
	assert.Equal(t, http.StatusBadRequest, res.Code)
}

func TestDepositsAndCompanyProfile(t *testing.T) {
	api := newTestAPI(t)
	seller := loginAs(t, api, "seller", "seller123")
	admin := loginAs(t, api, "admin", "admin123")

	res := doJSON(t, api, http.MethodPost, "/api/v1/customers/cust-1/deposits", seller, domain.DepositRequest{Amount: 500, PaymentType: "wave"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())
	deposit := decodeBody[map[string]domain.Deposit](t, res)["deposit"]
	assert.Equal(t, "DEP-00001", deposit.DepositNumber)

	res = doJSON(t, api, http.MethodPut, "/api/v1/company-profile", seller, domain.CompanyProfileUpdateRequest{Name: "x"})
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = doJSON(t, api, http.MethodPut, "/api/v1/company-profile", admin, domain.CompanyProfileUpdateRequest{Name: "Sofalia Thiès", DepositPrefix: "AV-"})
	require.Equal(t, http.StatusOK, res.Code, res.Body.String())
	profile := decodeBody[domain.CompanyProfile](t, res)
	assert.Equal(t, int64(1), profile.LastDepositNumber)
	assert.Equal(t, "AV-", profile.DepositPrefix)
}

func TestSalesSummaryCSVExport(t *testing.T) {
	api := newTestAPI(t)
	seller := loginAs(t, api, "seller", "seller123")

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", seller, domain.SaleRequest{
		CustomerID: "cust-walkin",
		PaidAmount: 100,
		Items:      []domain.CartItem{{ProductID: "p1", Quantity: 1}},
	})
	require.Equal(t, http.StatusCreated, res.Code)

	res = doJSON(t, api, http.MethodGet, "/api/v1/reports/summary?format=csv", seller, nil)
	require.Equal(t, http.StatusOK, res.Code)
	assert.Contains(t, res.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, res.Body.String(), "summary,sales,1\n")
	assert.Contains(t, res.Body.String(), "payment,cash,100\n")
}

func TestUsersEndpointIsAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	seller := loginAs(t, api, "seller", "seller123")
	admin := loginAs(t, api, "admin", "admin123")

	res := doJSON(t, api, http.MethodGet, "/api/v1/users", seller, nil)
	assert.Equal(t, http.StatusForbidden, res.Code)

	res = doJSON(t, api, http.MethodPost, "/api/v1/users", admin, domain.UserCreateRequest{Username: "moussa", Password: "pass1234"})
	require.Equal(t, http.StatusCreated, res.Code, res.Body.String())

	token := loginAs(t, api, "moussa", "pass1234")
	assert.NotEmpty(t, token)
}

func TestEventStreamDeliversSaleChanges(t *testing.T) {
	api := newTestAPI(t)
	seller := loginAs(t, api, "seller", "seller123")

	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?collection=sales", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+seller)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	res := doJSON(t, api, http.MethodPost, "/api/v1/sales", seller, domain.SaleRequest{
		CustomerID: "cust-1",
		Items:      []domain.CartItem{{ProductID: "p1", Quantity: 1}},
	})
	require.Equal(t, http.StatusCreated, res.Code)
	sale := decodeBody[map[string]domain.Sale](t, res)["sale"]

	reader := bufio.NewReader(resp.Body)
	for {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok {
			continue
		}
		var event domain.ChangeEvent
		require.NoError(t, json.Unmarshal([]byte(data), &event))
		assert.Equal(t, domain.CollectionSales, event.Collection)
		assert.Equal(t, sale.ID, event.ID)
		return
	}
}

func TestEventStreamRejectsUnknownCollection(t *testing.T) {
	api := newTestAPI(t)
	seller := loginAs(t, api, "seller", "seller123")

	res := doJSON(t, api, http.MethodGet, "/api/v1/events?collection=secrets", seller, nil)
	assert.Equal(t, http.StatusBadRequest, res.Code)
}
