package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"waralabaku/backend/internal/domain"
	"waralabaku/backend/internal/service"
	"waralabaku/backend/internal/store"
)

type API struct {
	service       *service.Service
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
	log           zerolog.Logger
}

func New(svc *service.Service, auth *AuthManager, allowedOrigin string, logger zerolog.Logger) *API {
	return &API{
		service:       svc,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
		log:           logger,
	}
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
	kept = append(kept, now)
	l.entries[key] = kept
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

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)

	mux.HandleFunc("/api/v1/products", a.requireAuth(a.handleProducts, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/expenses", a.requireAuth(a.handleExpenses, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/entries/delete", a.requireAuth(a.handleDeleteEntries, domain.RoleStaff, domain.RoleOwner))

	mux.HandleFunc("/api/v1/inventory", a.requireAuth(a.handleInventory, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/inventory/low-stock", a.requireAuth(a.handleLowStock, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/inventory/stock-level", a.requireAuth(a.handleStockLevel, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/inventory/restock", a.requireAuth(a.handleRestock, domain.RoleStaff, domain.RoleOwner))

	mux.HandleFunc("/api/v1/statistics/sales", a.requireAuth(a.handleSalesStatistics, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/statistics/finance", a.requireAuth(a.handleFinanceStatistics, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/statistics/monthly", a.requireAuth(a.handleMonthlySeries, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/statistics/product-ranking", a.requireAuth(a.handleProductRanking, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/statistics/profit-timeline", a.requireAuth(a.handleProfitTimeline, domain.RoleStaff, domain.RoleOwner))

	mux.HandleFunc("/api/v1/royalty", a.requireAuth(a.handleRoyalty, domain.RoleStaff, domain.RoleOwner))
	mux.HandleFunc("/api/v1/audit-logs", a.requireAuth(a.handleAuditLogs, domain.RoleOwner))
	mux.HandleFunc("/api/v1/users/staff", a.requireAuth(a.handleStaffUsers, domain.RoleOwner))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			a.writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			a.writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

// effectiveUnitID scopes the request to a unit. Staff are pinned to their
// own unit; owners may address any unit and fall back to their default.
func effectiveUnitID(r *http.Request, requested int64) int64 {
	actor, ok := service.ActorFromContext(r.Context())
	if !ok {
		return requested
	}
	if actor.Role == domain.RoleStaff && actor.UnitID != 0 {
		return actor.UnitID
	}
	if requested != 0 {
		return requested
	}
	return actor.UnitID
}

func queryUnitID(r *http.Request) int64 {
	raw := strings.TrimSpace(r.URL.Query().Get("unit_id"))
	if raw == "" {
		return 0
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return id
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(req)
	if err != nil {
		a.writeError(w, http.StatusUnauthorized, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	unitID := effectiveUnitID(r, queryUnitID(r))
	products, err := a.service.ListProducts(r.Context(), unitID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		unitID := effectiveUnitID(r, queryUnitID(r))
		rows, err := a.service.ListSales(r.Context(), unitID, r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sales": rows})
	case http.MethodPost:
		var req domain.SaleCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		req.UnitID = effectiveUnitID(r, req.UnitID)

		result, err := a.service.RecordSale(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, result)
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPatch {
		a.writeMethodNotAllowed(w)
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/api/v1/sales/")
	entryID, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || entryID < 1 {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid sale id"))
		return
	}

	var req domain.SaleUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	req.UnitID = effectiveUnitID(r, req.UnitID)

	entry, err := a.service.EditSale(r.Context(), entryID, req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entry": entry})
}

func (a *API) handleExpenses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		unitID := effectiveUnitID(r, queryUnitID(r))
		entries, err := a.service.ListExpenses(r.Context(), unitID, r.URL.Query().Get("from"), r.URL.Query().Get("to"))
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"expenses": entries})
	case http.MethodPost:
		var req domain.ExpenseCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		req.UnitID = effectiveUnitID(r, req.UnitID)

		entry, err := a.service.RecordExpense(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"entry": entry})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleDeleteEntries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	var req domain.DeleteEntriesRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	req.UnitID = effectiveUnitID(r, req.UnitID)

	deleted, err := a.service.DeleteEntries(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.DeleteEntriesResponse{Deleted: deleted})
}

func (a *API) handleInventory(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		unitID := effectiveUnitID(r, queryUnitID(r))
		items, err := a.service.ListInventory(r.Context(), unitID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"inventory": items})
	case http.MethodPost:
		var req domain.InventoryCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		req.UnitID = effectiveUnitID(r, req.UnitID)

		record, err := a.service.AddProductToInventory(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"record": record})
	case http.MethodDelete:
		unitID := effectiveUnitID(r, queryUnitID(r))
		productID, err := strconv.ParseInt(strings.TrimSpace(r.URL.Query().Get("product_id")), 10, 64)
		if err != nil || productID < 1 {
			a.writeError(w, http.StatusBadRequest, errors.New("invalid product_id"))
			return
		}
		if err := a.service.RemoveProductFromInventory(r.Context(), unitID, productID); err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"removed": true})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleLowStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	unitID := effectiveUnitID(r, queryUnitID(r))
	items, err := a.service.ListLowStock(r.Context(), unitID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"inventory": items})
}

func (a *API) handleStockLevel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		a.writeMethodNotAllowed(w)
		return
	}

	var req domain.StockLevelRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	req.UnitID = effectiveUnitID(r, req.UnitID)

	record, err := a.service.SetStockLevel(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": record})
}

func (a *API) handleRestock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}

	var req domain.StockLevelRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	req.UnitID = effectiveUnitID(r, req.UnitID)

	record, err := a.service.RestockProduct(r.Context(), req.UnitID, req.ProductID, req.Quantity)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"record": record})
}

func (a *API) handleSalesStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	unitID := effectiveUnitID(r, queryUnitID(r))
	stats, err := a.service.SalesStatistics(r.Context(), unitID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleFinanceStatistics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	unitID := effectiveUnitID(r, queryUnitID(r))
	stats, err := a.service.FinanceStatistics(r.Context(), unitID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleMonthlySeries(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	unitID := effectiveUnitID(r, queryUnitID(r))
	year, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("year")))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid year"))
		return
	}

	buckets, err := a.service.MonthlySeries(r.Context(), unitID, year)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"months": buckets})
}

func (a *API) handleProductRanking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	unitID := effectiveUnitID(r, queryUnitID(r))
	year, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("year")))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid year"))
		return
	}
	month, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("month")))
	if err != nil {
		a.writeError(w, http.StatusBadRequest, errors.New("invalid month"))
		return
	}

	ranking, err := a.service.ProductSalesRanking(r.Context(), unitID, year, month)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ranking)
}

func (a *API) handleProfitTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	unitID := effectiveUnitID(r, queryUnitID(r))
	points, err := a.service.ProfitTimeline(r.Context(), unitID, r.URL.Query().Get("from"), r.URL.Query().Get("to"))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"timeline": points})
}

func (a *API) handleRoyalty(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		unitID := effectiveUnitID(r, queryUnitID(r))
		snapshot, err := a.service.RoyaltySnapshot(r.Context(), unitID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, snapshot)
	case http.MethodPost:
		actor, _ := service.ActorFromContext(r.Context())
		if actor.Role != domain.RoleOwner {
			a.writeError(w, http.StatusForbidden, errors.New("owner role required"))
			return
		}

		var req domain.RoyaltyCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}

		record, err := a.service.RecordRoyalty(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"record": record})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	unitID := queryUnitID(r)
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), unitID, r.URL.Query().Get("from"), r.URL.Query().Get("to"), limit)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handleStaffUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"users": a.auth.ListStaff()})
	case http.MethodPost:
		var req domain.StaffCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}

		user, err := a.auth.CreateStaff(req)
		if err != nil {
			a.writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"user": user})
	default:
		a.writeMethodNotAllowed(w)
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(startedAt)).
			Msg("request")
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

// writeServiceError maps the store sentinel errors onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		a.writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrProductNotFound),
		errors.Is(err, store.ErrSalesRecordNotFound),
		errors.Is(err, store.ErrExpenseRecordNotFound),
		errors.Is(err, store.ErrNotFound):
		a.writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrProductNotInInventory),
		errors.Is(err, store.ErrInsufficientStock):
		a.writeError(w, http.StatusUnprocessableEntity, err)
	default:
		a.writeError(w, http.StatusInternalServerError, err)
	}
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx responses carry a generic message so internal details (SQL errors,
	// file paths) never reach clients. 4xx messages are user-facing.
	msg := err.Error()
	if status >= 500 {
		a.log.Error().Int("status", status).Err(err).Msg("internal error")
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
