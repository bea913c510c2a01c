package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Unit is a single franchise outlet. Sales, expenses, inventory and royalty
// rows all hang off a unit; the franchise only owns the product catalog.
type Unit struct {
	ID          int64  `json:"id"`
	FranchiseID int64  `json:"franchise_id"`
	Name        string `json:"name"`
}

type Product struct {
	ID          int64           `json:"id"`
	FranchiseID int64           `json:"franchise_id"`
	Name        string          `json:"name"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Status      string          `json:"status"`
}

// InventoryRecord tracks on-hand stock for one product at one unit.
// At most one record exists per (unit, product) pair and Quantity is
// never negative.
type InventoryRecord struct {
	UnitID       int64     `json:"unit_id"`
	ProductID    int64     `json:"product_id"`
	Quantity     int       `json:"quantity"`
	ReorderLevel int       `json:"reorder_level"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// LineItem is one product line inside a revenue entry. Items are real rows
// with their own ids; the sale write path always creates exactly one.
type LineItem struct {
	ID          int64           `json:"id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
}

type RevenueEntry struct {
	ID          int64           `json:"id"`
	UnitID      int64           `json:"unit_id"`
	FranchiseID int64           `json:"franchise_id"`
	Type        string          `json:"type"`
	Amount      decimal.Decimal `json:"amount"`
	NetAmount   decimal.Decimal `json:"net_amount"`
	RevenueDate time.Time       `json:"revenue_date"`
	PeriodYear  int             `json:"period_year"`
	PeriodMonth int             `json:"period_month"`
	Status      string          `json:"status"`
	Items       []LineItem      `json:"items"`
	CreatedAt   time.Time       `json:"created_at"`
}

type ExpenseEntry struct {
	ID              int64           `json:"id"`
	UnitID          int64           `json:"unit_id"`
	FranchiseID     int64           `json:"franchise_id"`
	Type            string          `json:"type"`
	Category        string          `json:"category"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
	TransactionDate time.Time       `json:"transaction_date"`
	CreatedAt       time.Time       `json:"created_at"`
}

// RoyaltyRecord holds one royalty total per unit per calendar period.
type RoyaltyRecord struct {
	ID          int64           `json:"id"`
	UnitID      int64           `json:"unit_id"`
	PeriodYear  int             `json:"period_year"`
	PeriodMonth int             `json:"period_month"`
	Amount      decimal.Decimal `json:"amount"`
	CreatedAt   time.Time       `json:"created_at"`
}

type SaleCreateRequest struct {
	UnitID      int64  `json:"unit_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Date        string `json:"date"`
}

type SaleUpdateRequest struct {
	UnitID      int64  `json:"unit_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	Date        string `json:"date"`
}

// SaleResult carries the stored entry plus the stock that remains for the
// sold product after the decrement committed.
type SaleResult struct {
	Entry          RevenueEntry `json:"entry"`
	RemainingStock int          `json:"remaining_stock"`
}

// SaleRow is the presentation shape of a sold line. ID is the composite
// display id "{entry_id}-{item_id}"; it exists only at this boundary.
type SaleRow struct {
	ID          string          `json:"id"`
	EntryID     int64           `json:"entry_id"`
	UnitID      int64           `json:"unit_id"`
	Date        string          `json:"date"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Amount      decimal.Decimal `json:"amount"`
	Status      string          `json:"status"`
}

type ExpenseCreateRequest struct {
	UnitID      int64           `json:"unit_id"`
	Category    string          `json:"category"`
	Amount      decimal.Decimal `json:"amount"`
	Date        string          `json:"date"`
	Description string          `json:"description"`
}

type DeleteEntriesRequest struct {
	UnitID   int64    `json:"unit_id"`
	Category string   `json:"category"`
	IDs      []string `json:"ids"`
}

type DeleteEntriesResponse struct {
	Deleted int `json:"deleted"`
}

type InventoryCreateRequest struct {
	UnitID       int64 `json:"unit_id"`
	ProductID    int64 `json:"product_id"`
	Quantity     int   `json:"quantity"`
	ReorderLevel int   `json:"reorder_level"`
}

type StockLevelRequest struct {
	UnitID    int64 `json:"unit_id"`
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// InventoryItem joins an inventory record with its product for list views.
type InventoryItem struct {
	UnitID       int64           `json:"unit_id"`
	ProductID    int64           `json:"product_id"`
	ProductName  string          `json:"product_name"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
	ReorderLevel int             `json:"reorder_level"`
	LowStock     bool            `json:"low_stock"`
}

type RoyaltyCreateRequest struct {
	UnitID int64           `json:"unit_id"`
	Year   int             `json:"year"`
	Month  int             `json:"month"`
	Amount decimal.Decimal `json:"amount"`
}

type SalesStatistics struct {
	CurrentMonthTotal  decimal.Decimal `json:"current_month_total"`
	PreviousMonthTotal decimal.Decimal `json:"previous_month_total"`
	PercentChange      decimal.Decimal `json:"percent_change"`
}

type FinanceStatistics struct {
	CurrentMonthSales     decimal.Decimal `json:"current_month_sales"`
	PreviousMonthSales    decimal.Decimal `json:"previous_month_sales"`
	SalesPercentChange    decimal.Decimal `json:"sales_percent_change"`
	CurrentMonthExpenses  decimal.Decimal `json:"current_month_expenses"`
	PreviousMonthExpenses decimal.Decimal `json:"previous_month_expenses"`
	ExpensePercentChange  decimal.Decimal `json:"expense_percent_change"`
	CurrentMonthProfit    decimal.Decimal `json:"current_month_profit"`
	PreviousMonthProfit   decimal.Decimal `json:"previous_month_profit"`
	ProfitPercentChange   decimal.Decimal `json:"profit_percent_change"`
}

type MonthlyBucket struct {
	Month    int             `json:"month"`
	Sales    decimal.Decimal `json:"sales"`
	Expenses decimal.Decimal `json:"expenses"`
	Profit   decimal.Decimal `json:"profit"`
}

// MonthlyTotal is the raw store aggregate feeding MonthlyBucket.
type MonthlyTotal struct {
	Month    int
	Sales    decimal.Decimal
	Expenses decimal.Decimal
}

type ProductRanking struct {
	ProductName  string          `json:"product_name"`
	Quantity     int             `json:"quantity"`
	Revenue      decimal.Decimal `json:"revenue"`
	AveragePrice decimal.Decimal `json:"average_price"`
}

type ProductSalesRanking struct {
	Top    []ProductRanking `json:"top"`
	Bottom []ProductRanking `json:"bottom"`
}

// ProductTotal is the raw per-product aggregate the ranking is built from.
type ProductTotal struct {
	ProductName string
	Quantity    int
	Revenue     decimal.Decimal
}

type ProfitPoint struct {
	Date    string          `json:"date"`
	Revenue decimal.Decimal `json:"revenue"`
	Expense decimal.Decimal `json:"expense"`
	Profit  decimal.Decimal `json:"profit"`
}

type RoyaltyPhase struct {
	PeriodYear  int             `json:"period_year"`
	PeriodMonth int             `json:"period_month"`
	Amount      decimal.Decimal `json:"amount"`
}

type RoyaltySnapshot struct {
	CurrentAmount decimal.Decimal `json:"current_amount"`
	Phases        []RoyaltyPhase  `json:"phases"`
}

// PeriodTotals is the (amount, net_amount) pair a store returns for a
// revenue range sum.
type PeriodTotals struct {
	Amount    decimal.Decimal
	NetAmount decimal.Decimal
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	UnitID      int64  `json:"unit_id"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
	UnitID   int64
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	UnitID   int64  `json:"unit_id"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	UnitID    int64     `json:"unit_id"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	UnitID    int64
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID            string    `json:"id"`
	UnitID        int64     `json:"unit_id"`
	ActorUsername string    `json:"actor_username"`
	ActorRole     string    `json:"actor_role"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

const (
	EntryTypeSales   = "sales"
	EntryTypeExpense = "expense"
)

const (
	EntryStatusVerified = "verified"
	EntryStatusPending  = "pending"
)

const (
	ProductStatusActive   = "active"
	ProductStatusInactive = "inactive"
)

const (
	RoleOwner = "owner"
	RoleStaff = "staff"
)
