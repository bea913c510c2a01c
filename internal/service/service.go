package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"waralabaku/backend/internal/cache"
	"waralabaku/backend/internal/domain"
	"waralabaku/backend/internal/metrics"
	"waralabaku/backend/internal/store"
	"waralabaku/backend/internal/xid"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

const dateLayout = "2006-01-02"

type Service struct {
	repo  store.Repository
	stats cache.StatsCache
	clock Clock
	log   zerolog.Logger
}

func New(repo store.Repository, stats cache.StatsCache, clock Clock, logger zerolog.Logger) *Service {
	if stats == nil {
		stats = cache.NoopStatsCache{}
	}
	if clock == nil {
		clock = SystemClock()
	}

	return &Service{
		repo:  repo,
		stats: stats,
		clock: clock,
		log:   logger,
	}
}

// RecordSale resolves the product by name inside the unit's franchise,
// checks stock, and writes the revenue entry together with the inventory
// decrement in one storage transaction.
func (s *Service) RecordSale(ctx context.Context, req domain.SaleCreateRequest) (domain.SaleResult, error) {
	productName := strings.TrimSpace(req.ProductName)
	if productName == "" {
		return domain.SaleResult{}, fmt.Errorf("%w: product name is required", store.ErrValidation)
	}
	if req.Quantity < 1 {
		return domain.SaleResult{}, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}
	saleDate, err := parseDate(req.Date)
	if err != nil {
		return domain.SaleResult{}, err
	}

	unit, err := s.repo.GetUnit(ctx, req.UnitID)
	if err != nil {
		return domain.SaleResult{}, err
	}
	product, err := s.repo.FindActiveProductByName(ctx, unit.FranchiseID, productName)
	if err != nil {
		return domain.SaleResult{}, err
	}

	amount := product.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))
	entry := domain.RevenueEntry{
		UnitID:      unit.ID,
		FranchiseID: unit.FranchiseID,
		Type:        domain.EntryTypeSales,
		Amount:      amount,
		NetAmount:   amount,
		RevenueDate: saleDate,
		PeriodYear:  saleDate.Year(),
		PeriodMonth: int(saleDate.Month()),
		Status:      domain.EntryStatusVerified,
		Items: []domain.LineItem{{
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    req.Quantity,
			Price:       product.UnitPrice,
		}},
	}

	created, remaining, err := s.repo.CreateSale(ctx, entry)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			metrics.InsufficientStockRejections.Inc()
		}
		return domain.SaleResult{}, err
	}

	metrics.SalesRecorded.Inc()
	s.invalidateStats(ctx, unit.ID)
	s.logAudit(ctx, unit.ID, "sale_record", "revenue_entry", strconv.FormatInt(created.ID, 10),
		fmt.Sprintf("product=%s,qty=%d,amount=%s", product.Name, req.Quantity, amount.String()))

	return domain.SaleResult{Entry: *created, RemainingStock: remaining}, nil
}

// EditSale rewrites a sale entry against a freshly resolved product. Stock
// moves by the quantity delta only: an increase consumes stock, a decrease
// returns it, and switching products leaves the old product's stock alone.
// The delta itself is computed by the store inside the update transaction.
func (s *Service) EditSale(ctx context.Context, entryID int64, req domain.SaleUpdateRequest) (domain.RevenueEntry, error) {
	productName := strings.TrimSpace(req.ProductName)
	if productName == "" {
		return domain.RevenueEntry{}, fmt.Errorf("%w: product name is required", store.ErrValidation)
	}
	if req.Quantity < 1 {
		return domain.RevenueEntry{}, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}
	saleDate, err := parseDate(req.Date)
	if err != nil {
		return domain.RevenueEntry{}, err
	}

	existing, err := s.repo.GetSale(ctx, entryID)
	if err != nil {
		return domain.RevenueEntry{}, err
	}
	if existing.UnitID != req.UnitID {
		return domain.RevenueEntry{}, store.ErrSalesRecordNotFound
	}

	unit, err := s.repo.GetUnit(ctx, existing.UnitID)
	if err != nil {
		return domain.RevenueEntry{}, err
	}
	product, err := s.repo.FindActiveProductByName(ctx, unit.FranchiseID, productName)
	if err != nil {
		return domain.RevenueEntry{}, err
	}
	if _, err := s.repo.GetInventoryRecord(ctx, unit.ID, product.ID); err != nil {
		return domain.RevenueEntry{}, err
	}

	itemID := int64(0)
	if len(existing.Items) > 0 {
		itemID = existing.Items[0].ID
	}

	amount := product.UnitPrice.Mul(decimal.NewFromInt(int64(req.Quantity)))
	updated := domain.RevenueEntry{
		ID:          existing.ID,
		UnitID:      existing.UnitID,
		FranchiseID: existing.FranchiseID,
		Type:        domain.EntryTypeSales,
		Amount:      amount,
		NetAmount:   amount,
		RevenueDate: saleDate,
		PeriodYear:  saleDate.Year(),
		PeriodMonth: int(saleDate.Month()),
		Status:      existing.Status,
		Items: []domain.LineItem{{
			ID:          itemID,
			ProductID:   product.ID,
			ProductName: product.Name,
			Quantity:    req.Quantity,
			Price:       product.UnitPrice,
		}},
	}

	saved, err := s.repo.UpdateSale(ctx, updated)
	if err != nil {
		if errors.Is(err, store.ErrInsufficientStock) {
			metrics.InsufficientStockRejections.Inc()
		}
		return domain.RevenueEntry{}, err
	}

	metrics.SalesEdited.Inc()
	s.invalidateStats(ctx, unit.ID)
	s.logAudit(ctx, unit.ID, "sale_edit", "revenue_entry", strconv.FormatInt(saved.ID, 10),
		fmt.Sprintf("product=%s,qty=%d", product.Name, req.Quantity))

	return *saved, nil
}

// DeleteEntries removes sale or expense rows. Sale ids arrive as composite
// display ids ("{entry_id}-{item_id}"); the entry id is extracted and
// de-duplicated so selecting several lines of one entry deletes it once.
// Deleting a sale never restores inventory.
func (s *Service) DeleteEntries(ctx context.Context, req domain.DeleteEntriesRequest) (int, error) {
	if len(req.IDs) == 0 {
		return 0, fmt.Errorf("%w: no ids provided", store.ErrValidation)
	}

	var deleted int
	switch req.Category {
	case domain.EntryTypeSales:
		entryIDs, err := parseCompositeSaleIDs(req.IDs)
		if err != nil {
			return 0, err
		}
		deleted, err = s.repo.DeleteSales(ctx, req.UnitID, entryIDs)
		if err != nil {
			return 0, err
		}
	case domain.EntryTypeExpense:
		ids := make([]int64, 0, len(req.IDs))
		for _, raw := range req.IDs {
			id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
			if err != nil {
				return 0, fmt.Errorf("%w: malformed expense id %q", store.ErrValidation, raw)
			}
			ids = append(ids, id)
		}
		var err error
		deleted, err = s.repo.DeleteExpenses(ctx, req.UnitID, ids)
		if err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("%w: unknown category %q", store.ErrValidation, req.Category)
	}

	metrics.EntriesDeleted.Add(float64(deleted))
	s.invalidateStats(ctx, req.UnitID)
	s.logAudit(ctx, req.UnitID, "entries_delete", req.Category, strings.Join(req.IDs, ","),
		fmt.Sprintf("requested=%d,deleted=%d", len(req.IDs), deleted))

	return deleted, nil
}

func (s *Service) RecordExpense(ctx context.Context, req domain.ExpenseCreateRequest) (domain.ExpenseEntry, error) {
	category := strings.TrimSpace(req.Category)
	if category == "" {
		return domain.ExpenseEntry{}, fmt.Errorf("%w: category is required", store.ErrValidation)
	}
	if !req.Amount.IsPositive() {
		return domain.ExpenseEntry{}, fmt.Errorf("%w: amount must be positive", store.ErrValidation)
	}
	txDate, err := parseDate(req.Date)
	if err != nil {
		return domain.ExpenseEntry{}, err
	}

	unit, err := s.repo.GetUnit(ctx, req.UnitID)
	if err != nil {
		return domain.ExpenseEntry{}, err
	}

	created, err := s.repo.CreateExpense(ctx, domain.ExpenseEntry{
		UnitID:          unit.ID,
		FranchiseID:     unit.FranchiseID,
		Type:            domain.EntryTypeExpense,
		Category:        category,
		Amount:          req.Amount,
		Description:     strings.TrimSpace(req.Description),
		TransactionDate: txDate,
	})
	if err != nil {
		return domain.ExpenseEntry{}, err
	}

	metrics.ExpensesRecorded.Inc()
	s.invalidateStats(ctx, unit.ID)
	s.logAudit(ctx, unit.ID, "expense_record", "expense_entry", strconv.FormatInt(created.ID, 10),
		fmt.Sprintf("category=%s,amount=%s", category, req.Amount.String()))

	return *created, nil
}

// ListSales flattens entries into presentation rows carrying the composite
// display id. Rows come back newest first.
func (s *Service) ListSales(ctx context.Context, unitID int64, fromStr string, toStr string) ([]domain.SaleRow, error) {
	from, to, err := parseRange(fromStr, toStr)
	if err != nil {
		return nil, err
	}
	entries, err := s.repo.ListSales(ctx, unitID, from, to)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.SaleRow, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		entry := entries[i]
		for _, item := range entry.Items {
			rows = append(rows, domain.SaleRow{
				ID:          fmt.Sprintf("%d-%d", entry.ID, item.ID),
				EntryID:     entry.ID,
				UnitID:      entry.UnitID,
				Date:        entry.RevenueDate.Format(dateLayout),
				ProductName: item.ProductName,
				Quantity:    item.Quantity,
				Price:       item.Price,
				Amount:      item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))),
				Status:      entry.Status,
			})
		}
	}
	return rows, nil
}

func (s *Service) ListExpenses(ctx context.Context, unitID int64, fromStr string, toStr string) ([]domain.ExpenseEntry, error) {
	from, to, err := parseRange(fromStr, toStr)
	if err != nil {
		return nil, err
	}
	return s.repo.ListExpenses(ctx, unitID, from, to)
}

func (s *Service) ListProducts(ctx context.Context, unitID int64) ([]domain.Product, error) {
	unit, err := s.repo.GetUnit(ctx, unitID)
	if err != nil {
		return nil, err
	}
	return s.repo.ListProducts(ctx, unit.FranchiseID)
}

func (s *Service) AddProductToInventory(ctx context.Context, req domain.InventoryCreateRequest) (domain.InventoryRecord, error) {
	if req.Quantity < 0 || req.ReorderLevel < 0 {
		return domain.InventoryRecord{}, fmt.Errorf("%w: quantity and reorder level must not be negative", store.ErrValidation)
	}
	if _, err := s.repo.GetUnit(ctx, req.UnitID); err != nil {
		return domain.InventoryRecord{}, err
	}

	created, err := s.repo.CreateInventoryRecord(ctx, domain.InventoryRecord{
		UnitID:       req.UnitID,
		ProductID:    req.ProductID,
		Quantity:     req.Quantity,
		ReorderLevel: req.ReorderLevel,
	})
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	s.logAudit(ctx, req.UnitID, "inventory_add", "inventory_record", strconv.FormatInt(req.ProductID, 10),
		fmt.Sprintf("qty=%d,reorder=%d", req.Quantity, req.ReorderLevel))
	return *created, nil
}

// SetStockLevel overwrites the on-hand count, used for stock corrections
// after a physical count.
func (s *Service) SetStockLevel(ctx context.Context, req domain.StockLevelRequest) (domain.InventoryRecord, error) {
	record, err := s.repo.SetStockLevel(ctx, req.UnitID, req.ProductID, req.Quantity)
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	s.logAudit(ctx, req.UnitID, "stock_set", "inventory_record", strconv.FormatInt(req.ProductID, 10),
		fmt.Sprintf("qty=%d", req.Quantity))
	return *record, nil
}

func (s *Service) RestockProduct(ctx context.Context, unitID int64, productID int64, quantity int) (domain.InventoryRecord, error) {
	record, err := s.repo.IncrementStock(ctx, unitID, productID, quantity)
	if err != nil {
		return domain.InventoryRecord{}, err
	}

	s.logAudit(ctx, unitID, "stock_restock", "inventory_record", strconv.FormatInt(productID, 10),
		fmt.Sprintf("qty=%d", quantity))
	return *record, nil
}

// RemoveProductFromInventory deletes the ledger row. Historic sale entries
// referencing the product remain valid.
func (s *Service) RemoveProductFromInventory(ctx context.Context, unitID int64, productID int64) error {
	if err := s.repo.DeleteInventoryRecord(ctx, unitID, productID); err != nil {
		return err
	}
	s.logAudit(ctx, unitID, "inventory_remove", "inventory_record", strconv.FormatInt(productID, 10), "")
	return nil
}

func (s *Service) ListInventory(ctx context.Context, unitID int64) ([]domain.InventoryItem, error) {
	return s.repo.ListInventory(ctx, unitID)
}

func (s *Service) ListLowStock(ctx context.Context, unitID int64) ([]domain.InventoryItem, error) {
	items, err := s.repo.ListInventory(ctx, unitID)
	if err != nil {
		return nil, err
	}
	low := make([]domain.InventoryItem, 0)
	for _, item := range items {
		if item.LowStock {
			low = append(low, item)
		}
	}
	return low, nil
}

func (s *Service) ListAuditLogs(ctx context.Context, unitID int64, fromStr string, toStr string, limit int) ([]domain.AuditLog, error) {
	from, to, err := parseRange(fromStr, toStr)
	if err != nil {
		return nil, err
	}
	return s.repo.ListAuditLogs(ctx, unitID, from, to, limit)
}

// parseCompositeSaleIDs extracts the numeric entry id from each composite
// display id and drops duplicates while keeping first-seen order.
func parseCompositeSaleIDs(ids []string) ([]int64, error) {
	seen := make(map[int64]bool, len(ids))
	entryIDs := make([]int64, 0, len(ids))
	for _, raw := range ids {
		head, _, _ := strings.Cut(strings.TrimSpace(raw), "-")
		id, err := strconv.ParseInt(head, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: malformed sale id %q", store.ErrValidation, raw)
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		entryIDs = append(entryIDs, id)
	}
	return entryIDs, nil
}

func parseDate(value string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(value), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date must be formatted as %s", store.ErrValidation, dateLayout)
	}
	return t, nil
}

// parseRange turns inclusive date strings into the half-open [from, to)
// window the stores expect. Empty bounds stay open.
func parseRange(fromStr string, toStr string) (time.Time, time.Time, error) {
	var from, to time.Time
	if strings.TrimSpace(fromStr) != "" {
		parsed, err := parseDate(fromStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		from = parsed
	}
	if strings.TrimSpace(toStr) != "" {
		parsed, err := parseDate(toStr)
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to = parsed.AddDate(0, 0, 1)
	}
	return from, to, nil
}

func (s *Service) invalidateStats(ctx context.Context, unitID int64) {
	if err := s.stats.Delete(ctx, financeStatsKey(unitID, s.clock.Now())); err != nil {
		s.log.Warn().Err(err).Int64("unit_id", unitID).Msg("failed to invalidate finance stats cache")
	}
}

func (s *Service) logAudit(ctx context.Context, unitID int64, action string, entityType string, entityID string, detail string) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		actor = domain.Actor{Username: "system", Role: "system"}
	}

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		UnitID:        unitID,
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     time.Now().UTC(),
	}); err != nil {
		s.log.Warn().Err(err).Str("action", action).Str("entity", entityType+"/"+entityID).Msg("failed to write audit log")
	}
}
