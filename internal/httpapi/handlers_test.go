package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"waralabaku/backend/internal/cache"
	"waralabaku/backend/internal/domain"
	"waralabaku/backend/internal/service"
	"waralabaku/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, cache.NoopStatsCache{}, service.SystemClock(), zerolog.Nop())
	auth := NewAuthManager("test-secret-key", time.Hour, repo)
	return New(svc, auth, "*", zerolog.Nop())
}

func login(t *testing.T, api *API, username string, password string) domain.LoginResponse {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("login as %s failed, status %d body %s", username, res.Code, res.Body.String())
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload
}

func authedJSON(t *testing.T, api *API, token string, method string, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var raw []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal request payload failed: %v", err)
		}
		raw = encoded
	}

	req := httptest.NewRequest(method, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	return res
}

func TestHealthEndpoint(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 from /healthz, got %d", res.Code)
	}
	if !strings.Contains(res.Body.String(), `"ok":true`) {
		t.Fatalf("unexpected health body: %s", res.Body.String())
	}
}

func TestLoginWithSeededOwner(t *testing.T) {
	api := newTestAPI(t)
	payload := login(t, api, "owner", "owner123")

	if payload.Role != domain.RoleOwner {
		t.Fatalf("expected owner role, got %q", payload.Role)
	}
}

func TestLoginRejectsInvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	body, _ := json.Marshal(domain.LoginRequest{Username: "owner", Password: "wrong"})

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid credentials, got %d", res.Code)
	}
}

func TestProductsRequireAuth(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/products", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", res.Code)
	}
}

func TestProductsWithToken(t *testing.T) {
	api := newTestAPI(t)
	payload := login(t, api, "staff", "staff123")

	res := authedJSON(t, api, payload.AccessToken, http.MethodGet, "/api/v1/products", nil)
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 listing products, got %d body %s", res.Code, res.Body.String())
	}

	var decoded struct {
		Products []domain.Product `json:"products"`
	}
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode products failed: %v", err)
	}
	if len(decoded.Products) == 0 {
		t.Fatalf("expected seeded products in response")
	}
	for _, product := range decoded.Products {
		if product.Status != domain.ProductStatusActive {
			t.Fatalf("inactive product %q leaked into catalog response", product.Name)
		}
	}
}

func TestRecordSaleThroughAPI(t *testing.T) {
	api := newTestAPI(t)
	payload := login(t, api, "staff", "staff123")

	res := authedJSON(t, api, payload.AccessToken, http.MethodPost, "/api/v1/sales", domain.SaleCreateRequest{
		ProductName: "Ayam Geprek",
		Quantity:    3,
		Date:        "2026-08-20",
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201 recording sale, got %d body %s", res.Code, res.Body.String())
	}

	var result domain.SaleResult
	if err := json.NewDecoder(res.Body).Decode(&result); err != nil {
		t.Fatalf("decode sale result failed: %v", err)
	}
	if result.RemainingStock != 97 {
		t.Fatalf("expected remaining stock 97, got %d", result.RemainingStock)
	}
	if !result.Entry.Amount.Equal(decimal.NewFromInt(45000)) {
		t.Fatalf("expected amount 45000, got %s", result.Entry.Amount)
	}
	if result.Entry.Status != domain.EntryStatusVerified {
		t.Fatalf("expected verified entry, got %q", result.Entry.Status)
	}
	if result.Entry.UnitID != payload.UnitID {
		t.Fatalf("expected sale pinned to staff unit %d, got %d", payload.UnitID, result.Entry.UnitID)
	}
}

func TestRecordSaleInsufficientStockReturns422(t *testing.T) {
	api := newTestAPI(t)
	payload := login(t, api, "staff", "staff123")

	res := authedJSON(t, api, payload.AccessToken, http.MethodPost, "/api/v1/sales", domain.SaleCreateRequest{
		ProductName: "Ayam Geprek",
		Quantity:    500,
		Date:        "2026-08-20",
	})
	if res.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for oversell, got %d body %s", res.Code, res.Body.String())
	}
	if !strings.Contains(res.Body.String(), "only 100 units available") {
		t.Fatalf("expected available-stock message, got %s", res.Body.String())
	}
}

func TestRecordSaleUnknownProductReturns404(t *testing.T) {
	api := newTestAPI(t)
	payload := login(t, api, "staff", "staff123")

	res := authedJSON(t, api, payload.AccessToken, http.MethodPost, "/api/v1/sales", domain.SaleCreateRequest{
		ProductName: "Menu Tidak Ada",
		Quantity:    1,
		Date:        "2026-08-20",
	})
	if res.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown product, got %d body %s", res.Code, res.Body.String())
	}
}

func TestStaffCannotReadAuditLogs(t *testing.T) {
	api := newTestAPI(t)
	payload := login(t, api, "staff", "staff123")

	res := authedJSON(t, api, payload.AccessToken, http.MethodGet, "/api/v1/audit-logs", nil)
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff on audit logs, got %d", res.Code)
	}
}

func TestStaffCannotPostRoyalty(t *testing.T) {
	api := newTestAPI(t)
	payload := login(t, api, "staff", "staff123")

	res := authedJSON(t, api, payload.AccessToken, http.MethodPost, "/api/v1/royalty", domain.RoyaltyCreateRequest{
		UnitID: 1,
		Year:   2026,
		Month:  8,
		Amount: decimal.NewFromInt(250000),
	})
	if res.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff posting royalty, got %d", res.Code)
	}
}

func TestOwnerRecordsRoyalty(t *testing.T) {
	api := newTestAPI(t)
	payload := login(t, api, "owner", "owner123")

	res := authedJSON(t, api, payload.AccessToken, http.MethodPost, "/api/v1/royalty", domain.RoyaltyCreateRequest{
		UnitID: 1,
		Year:   2026,
		Month:  8,
		Amount: decimal.NewFromInt(250000),
	})
	if res.Code != http.StatusCreated {
		t.Fatalf("expected 201 recording royalty, got %d body %s", res.Code, res.Body.String())
	}

	snapshot := authedJSON(t, api, payload.AccessToken, http.MethodGet, "/api/v1/royalty?unit_id=1", nil)
	if snapshot.Code != http.StatusOK {
		t.Fatalf("expected 200 reading royalty snapshot, got %d", snapshot.Code)
	}

	var decoded domain.RoyaltySnapshot
	if err := json.NewDecoder(snapshot.Body).Decode(&decoded); err != nil {
		t.Fatalf("decode royalty snapshot failed: %v", err)
	}
	if len(decoded.Phases) != 4 {
		t.Fatalf("expected 4 royalty phases, got %d", len(decoded.Phases))
	}
	if !decoded.CurrentAmount.Equal(decimal.NewFromInt(250000)) {
		t.Fatalf("expected current amount 250000, got %s", decoded.CurrentAmount)
	}
}

func TestDeleteSalesEntriesThroughAPI(t *testing.T) {
	api := newTestAPI(t)
	payload := login(t, api, "staff", "staff123")

	created := authedJSON(t, api, payload.AccessToken, http.MethodPost, "/api/v1/sales", domain.SaleCreateRequest{
		ProductName: "Es Teh Manis",
		Quantity:    2,
		Date:        "2026-08-21",
	})
	if created.Code != http.StatusCreated {
		t.Fatalf("seed sale failed, status %d", created.Code)
	}

	list := authedJSON(t, api, payload.AccessToken, http.MethodGet, "/api/v1/sales", nil)
	var rows struct {
		Sales []domain.SaleRow `json:"sales"`
	}
	if err := json.NewDecoder(list.Body).Decode(&rows); err != nil {
		t.Fatalf("decode sales list failed: %v", err)
	}
	if len(rows.Sales) != 1 {
		t.Fatalf("expected 1 sale row, got %d", len(rows.Sales))
	}

	res := authedJSON(t, api, payload.AccessToken, http.MethodPost, "/api/v1/entries/delete", domain.DeleteEntriesRequest{
		Category: "sales",
		IDs:      []string{rows.Sales[0].ID},
	})
	if res.Code != http.StatusOK {
		t.Fatalf("expected 200 deleting entries, got %d body %s", res.Code, res.Body.String())
	}

	var deleted domain.DeleteEntriesResponse
	if err := json.NewDecoder(res.Body).Decode(&deleted); err != nil {
		t.Fatalf("decode delete response failed: %v", err)
	}
	if deleted.Deleted != 1 {
		t.Fatalf("expected 1 deleted entry, got %d", deleted.Deleted)
	}
}
