package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"waralabaku/backend/internal/domain"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrValidation            = errors.New("validation failed")
	ErrProductNotFound       = errors.New("product not found")
	ErrProductNotInInventory = errors.New("product not in inventory")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrSalesRecordNotFound   = errors.New("sales record not found")
	ErrExpenseRecordNotFound = errors.New("expense record not found")
)

// Repository is the storage contract shared by the in-memory and postgres
// stores. All (from, to) ranges are half-open: from inclusive, to exclusive.
type Repository interface {
	GetUnit(ctx context.Context, unitID int64) (*domain.Unit, error)
	FindActiveProductByName(ctx context.Context, franchiseID int64, name string) (*domain.Product, error)
	ListProducts(ctx context.Context, franchiseID int64) ([]domain.Product, error)

	GetInventoryRecord(ctx context.Context, unitID int64, productID int64) (*domain.InventoryRecord, error)
	CreateInventoryRecord(ctx context.Context, record domain.InventoryRecord) (*domain.InventoryRecord, error)
	SetStockLevel(ctx context.Context, unitID int64, productID int64, quantity int) (*domain.InventoryRecord, error)
	DeleteInventoryRecord(ctx context.Context, unitID int64, productID int64) error
	ListInventory(ctx context.Context, unitID int64) ([]domain.InventoryItem, error)
	IncrementStock(ctx context.Context, unitID int64, productID int64, quantity int) (*domain.InventoryRecord, error)
	DecrementStock(ctx context.Context, unitID int64, productID int64, quantity int) (*domain.InventoryRecord, error)

	// CreateSale inserts the entry with its line item and decrements stock
	// for the sold product in one transaction. The int result is the stock
	// remaining after the decrement committed.
	CreateSale(ctx context.Context, entry domain.RevenueEntry) (*domain.RevenueEntry, int, error)
	GetSale(ctx context.Context, entryID int64) (*domain.RevenueEntry, error)
	// UpdateSale overwrites the entry row and its line item and moves stock
	// by the quantity delta in one transaction. The old quantity is read
	// from the stored line item inside the transaction (it counts only when
	// the product is unchanged), so concurrent edits of the same entry
	// serialize instead of computing deltas from stale reads. A positive
	// delta consumes stock, a negative one returns it.
	UpdateSale(ctx context.Context, entry domain.RevenueEntry) (*domain.RevenueEntry, error)
	DeleteSales(ctx context.Context, unitID int64, entryIDs []int64) (int, error)
	ListSales(ctx context.Context, unitID int64, from time.Time, to time.Time) ([]domain.RevenueEntry, error)

	CreateExpense(ctx context.Context, entry domain.ExpenseEntry) (*domain.ExpenseEntry, error)
	DeleteExpenses(ctx context.Context, unitID int64, ids []int64) (int, error)
	ListExpenses(ctx context.Context, unitID int64, from time.Time, to time.Time) ([]domain.ExpenseEntry, error)

	SumSales(ctx context.Context, unitID int64, from time.Time, to time.Time) (domain.PeriodTotals, error)
	SumExpenses(ctx context.Context, unitID int64, from time.Time, to time.Time) (decimal.Decimal, error)
	MonthlyTotals(ctx context.Context, unitID int64, year int) ([]domain.MonthlyTotal, error)
	// ProductTotals returns per-product quantity and revenue sums over
	// verified sales line items for one calendar month.
	ProductTotals(ctx context.Context, unitID int64, year int, month int) ([]domain.ProductTotal, error)

	UpsertRoyalty(ctx context.Context, record domain.RoyaltyRecord) (*domain.RoyaltyRecord, error)
	ListRecentRoyalties(ctx context.Context, unitID int64, limit int) ([]domain.RoyaltyRecord, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, unitID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
