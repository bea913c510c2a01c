package memory

import (
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"waralabaku/backend/internal/domain"
	"waralabaku/backend/internal/store"
)

type invKey struct {
	unitID    int64
	productID int64
}

type royaltyKey struct {
	unitID int64
	year   int
	month  int
}

type Store struct {
	mu            sync.RWMutex
	units         map[int64]domain.Unit
	products      map[int64]domain.Product
	inventory     map[invKey]domain.InventoryRecord
	sales         map[int64]domain.RevenueEntry
	expenses      map[int64]domain.ExpenseEntry
	royalties     map[royaltyKey]domain.RoyaltyRecord
	auditLogs     []domain.AuditLog
	users         map[string]domain.UserAccount
	nextEntryID   int64
	nextItemID    int64
	nextExpenseID int64
	nextRoyaltyID int64
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD
// environment variables. If unset, hardcoded dev defaults are used with a
// warning printed to stdout. These credentials are never used in production
// (the backend uses PostgreSQL when DATABASE_URL is set).
func seedUsers() map[string]domain.UserAccount {
	ownerPwd := envOr("SEED_OWNER_PASSWORD", "owner123")
	staffPwd := envOr("SEED_STAFF_PASSWORD", "staff123")
	if os.Getenv("SEED_OWNER_PASSWORD") == "" || os.Getenv("SEED_STAFF_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_OWNER_PASSWORD and SEED_STAFF_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
		unitID   int64
	}{
		{"owner", ownerPwd, domain.RoleOwner, 0},
		{"staff", staffPwd, domain.RoleStaff, 1},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			UnitID:    u.unitID,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func NewSeeded() *Store {
	units := []domain.Unit{
		{ID: 1, FranchiseID: 1, Name: "Waralabaku Tebet"},
		{ID: 2, FranchiseID: 1, Name: "Waralabaku Kemang"},
	}

	products := []domain.Product{
		{ID: 1, FranchiseID: 1, Name: "Ayam Geprek", UnitPrice: decimal.NewFromInt(15000), Status: domain.ProductStatusActive},
		{ID: 2, FranchiseID: 1, Name: "Es Teh Manis", UnitPrice: decimal.NewFromInt(5000), Status: domain.ProductStatusActive},
		{ID: 3, FranchiseID: 1, Name: "Nasi Goreng Spesial", UnitPrice: decimal.NewFromInt(18000), Status: domain.ProductStatusActive},
		{ID: 4, FranchiseID: 1, Name: "Mie Ayam Bakso", UnitPrice: decimal.NewFromInt(14000), Status: domain.ProductStatusActive},
		{ID: 5, FranchiseID: 1, Name: "Kopi Susu Gula Aren", UnitPrice: decimal.NewFromInt(17000), Status: domain.ProductStatusActive},
		{ID: 6, FranchiseID: 1, Name: "Paket Hemat A", UnitPrice: decimal.NewFromInt(25000), Status: domain.ProductStatusActive},
		{ID: 7, FranchiseID: 1, Name: "Sate Taichan", UnitPrice: decimal.NewFromInt(20000), Status: domain.ProductStatusInactive},
	}

	unitMap := make(map[int64]domain.Unit, len(units))
	for _, u := range units {
		unitMap[u.ID] = u
	}
	productMap := make(map[int64]domain.Product, len(products))
	inventory := make(map[invKey]domain.InventoryRecord)
	now := time.Now().UTC()
	for _, p := range products {
		productMap[p.ID] = p
		if p.Status != domain.ProductStatusActive {
			continue
		}
		inventory[invKey{unitID: 1, productID: p.ID}] = domain.InventoryRecord{
			UnitID:       1,
			ProductID:    p.ID,
			Quantity:     100,
			ReorderLevel: 10,
			UpdatedAt:    now,
		}
	}

	return &Store{
		units:         unitMap,
		products:      productMap,
		inventory:     inventory,
		sales:         make(map[int64]domain.RevenueEntry),
		expenses:      make(map[int64]domain.ExpenseEntry),
		royalties:     make(map[royaltyKey]domain.RoyaltyRecord),
		auditLogs:     make([]domain.AuditLog, 0, 128),
		users:         seedUsers(),
		nextEntryID:   1,
		nextItemID:    1,
		nextExpenseID: 1,
		nextRoyaltyID: 1,
	}
}

func (s *Store) GetUnit(_ context.Context, unitID int64) (*domain.Unit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	unit, ok := s.units[unitID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := unit
	return &copied, nil
}

func (s *Store) FindActiveProductByName(_ context.Context, franchiseID int64, name string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.TrimSpace(name)
	for _, p := range s.products {
		if p.FranchiseID != franchiseID || p.Status != domain.ProductStatusActive {
			continue
		}
		if strings.EqualFold(p.Name, needle) {
			copied := p
			return &copied, nil
		}
	}
	return nil, store.ErrProductNotFound
}

func (s *Store) ListProducts(_ context.Context, franchiseID int64) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.FranchiseID != franchiseID {
			continue
		}
		products = append(products, p)
	}
	slices.SortFunc(products, func(a, b domain.Product) int {
		return strings.Compare(a.Name, b.Name)
	})
	return products, nil
}

func (s *Store) GetInventoryRecord(_ context.Context, unitID int64, productID int64) (*domain.InventoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.inventory[invKey{unitID: unitID, productID: productID}]
	if !ok {
		return nil, store.ErrProductNotInInventory
	}
	copied := record
	return &copied, nil
}

func (s *Store) CreateInventoryRecord(_ context.Context, record domain.InventoryRecord) (*domain.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.Quantity < 0 || record.ReorderLevel < 0 {
		return nil, fmt.Errorf("%w: quantity and reorder level must not be negative", store.ErrValidation)
	}
	if _, ok := s.products[record.ProductID]; !ok {
		return nil, store.ErrProductNotFound
	}
	key := invKey{unitID: record.UnitID, productID: record.ProductID}
	if _, exists := s.inventory[key]; exists {
		return nil, fmt.Errorf("%w: product already in inventory", store.ErrValidation)
	}

	record.UpdatedAt = time.Now().UTC()
	s.inventory[key] = record
	copied := record
	return &copied, nil
}

func (s *Store) SetStockLevel(_ context.Context, unitID int64, productID int64, quantity int) (*domain.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if quantity < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", store.ErrValidation)
	}
	key := invKey{unitID: unitID, productID: productID}
	record, ok := s.inventory[key]
	if !ok {
		return nil, store.ErrProductNotInInventory
	}

	record.Quantity = quantity
	record.UpdatedAt = time.Now().UTC()
	s.inventory[key] = record
	copied := record
	return &copied, nil
}

func (s *Store) DeleteInventoryRecord(_ context.Context, unitID int64, productID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := invKey{unitID: unitID, productID: productID}
	if _, ok := s.inventory[key]; !ok {
		return store.ErrProductNotInInventory
	}
	delete(s.inventory, key)
	return nil
}

func (s *Store) ListInventory(_ context.Context, unitID int64) ([]domain.InventoryItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]domain.InventoryItem, 0, len(s.inventory))
	for key, record := range s.inventory {
		if key.unitID != unitID {
			continue
		}
		product := s.products[key.productID]
		items = append(items, domain.InventoryItem{
			UnitID:       record.UnitID,
			ProductID:    record.ProductID,
			ProductName:  product.Name,
			UnitPrice:    product.UnitPrice,
			Quantity:     record.Quantity,
			ReorderLevel: record.ReorderLevel,
			LowStock:     record.Quantity <= record.ReorderLevel,
		})
	}
	slices.SortFunc(items, func(a, b domain.InventoryItem) int {
		return strings.Compare(a.ProductName, b.ProductName)
	})
	return items, nil
}

func (s *Store) IncrementStock(_ context.Context, unitID int64, productID int64, quantity int) (*domain.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementLocked(unitID, productID, quantity)
}

func (s *Store) DecrementStock(_ context.Context, unitID int64, productID int64, quantity int) (*domain.InventoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decrementLocked(unitID, productID, quantity)
}

func (s *Store) incrementLocked(unitID int64, productID int64, quantity int) (*domain.InventoryRecord, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}
	key := invKey{unitID: unitID, productID: productID}
	record, ok := s.inventory[key]
	if !ok {
		return nil, store.ErrProductNotInInventory
	}
	record.Quantity += quantity
	record.UpdatedAt = time.Now().UTC()
	s.inventory[key] = record
	copied := record
	return &copied, nil
}

func (s *Store) decrementLocked(unitID int64, productID int64, quantity int) (*domain.InventoryRecord, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}
	key := invKey{unitID: unitID, productID: productID}
	record, ok := s.inventory[key]
	if !ok {
		return nil, store.ErrProductNotInInventory
	}
	if quantity > record.Quantity {
		return nil, fmt.Errorf("%w: only %d units available", store.ErrInsufficientStock, record.Quantity)
	}
	record.Quantity -= quantity
	record.UpdatedAt = time.Now().UTC()
	s.inventory[key] = record
	copied := record
	return &copied, nil
}

func (s *Store) CreateSale(_ context.Context, entry domain.RevenueEntry) (*domain.RevenueEntry, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(entry.Items) != 1 {
		return nil, 0, fmt.Errorf("%w: a sale entry carries exactly one line item", store.ErrValidation)
	}
	item := entry.Items[0]

	record, err := s.decrementLocked(entry.UnitID, item.ProductID, item.Quantity)
	if err != nil {
		return nil, 0, err
	}

	entry.ID = s.nextEntryID
	s.nextEntryID++
	item.ID = s.nextItemID
	s.nextItemID++
	entry.Items = []domain.LineItem{item}
	entry.CreatedAt = time.Now().UTC()
	s.sales[entry.ID] = entry

	copied := copyEntry(entry)
	return &copied, record.Quantity, nil
}

func (s *Store) GetSale(_ context.Context, entryID int64) (*domain.RevenueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.sales[entryID]
	if !ok {
		return nil, store.ErrSalesRecordNotFound
	}
	copied := copyEntry(entry)
	return &copied, nil
}

func (s *Store) UpdateSale(_ context.Context, entry domain.RevenueEntry) (*domain.RevenueEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.sales[entry.ID]
	if !ok || existing.UnitID != entry.UnitID {
		return nil, store.ErrSalesRecordNotFound
	}
	if len(entry.Items) != 1 {
		return nil, fmt.Errorf("%w: a sale entry carries exactly one line item", store.ErrValidation)
	}
	item := entry.Items[0]

	// The old quantity comes from the stored line item under the same lock
	// as the stock mutation. It counts only when the entry already holds
	// the new product; after a product switch the full new quantity is
	// drawn from the new product's stock.
	oldQuantity := 0
	if len(existing.Items) > 0 && existing.Items[0].ProductID == item.ProductID {
		oldQuantity = existing.Items[0].Quantity
	}
	stockDelta := item.Quantity - oldQuantity

	switch {
	case stockDelta > 0:
		key := invKey{unitID: entry.UnitID, productID: item.ProductID}
		record, found := s.inventory[key]
		if !found {
			return nil, store.ErrProductNotInInventory
		}
		if stockDelta > record.Quantity {
			return nil, fmt.Errorf("%w: only %d units available for increase", store.ErrInsufficientStock, record.Quantity)
		}
		record.Quantity -= stockDelta
		record.UpdatedAt = time.Now().UTC()
		s.inventory[key] = record
	case stockDelta < 0:
		if _, err := s.incrementLocked(entry.UnitID, item.ProductID, -stockDelta); err != nil {
			return nil, err
		}
	}

	if item.ID == 0 {
		item.ID = s.nextItemID
		s.nextItemID++
	}
	entry.Items = []domain.LineItem{item}
	entry.CreatedAt = existing.CreatedAt
	s.sales[entry.ID] = entry

	copied := copyEntry(entry)
	return &copied, nil
}

func (s *Store) DeleteSales(_ context.Context, unitID int64, entryIDs []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range entryIDs {
		entry, ok := s.sales[id]
		if !ok || entry.UnitID != unitID {
			continue
		}
		delete(s.sales, id)
		deleted++
	}
	return deleted, nil
}

func (s *Store) ListSales(_ context.Context, unitID int64, from time.Time, to time.Time) ([]domain.RevenueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.RevenueEntry, 0)
	for _, entry := range s.sales {
		if entry.UnitID != unitID || !inRange(entry.RevenueDate, from, to) {
			continue
		}
		entries = append(entries, copyEntry(entry))
	}
	slices.SortFunc(entries, func(a, b domain.RevenueEntry) int {
		if a.RevenueDate.Equal(b.RevenueDate) {
			return int(a.ID - b.ID)
		}
		if a.RevenueDate.Before(b.RevenueDate) {
			return -1
		}
		return 1
	})
	return entries, nil
}

func (s *Store) CreateExpense(_ context.Context, entry domain.ExpenseEntry) (*domain.ExpenseEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = s.nextExpenseID
	s.nextExpenseID++
	entry.CreatedAt = time.Now().UTC()
	s.expenses[entry.ID] = entry
	copied := entry
	return &copied, nil
}

func (s *Store) DeleteExpenses(_ context.Context, unitID int64, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for _, id := range ids {
		entry, ok := s.expenses[id]
		if !ok || entry.UnitID != unitID {
			continue
		}
		delete(s.expenses, id)
		deleted++
	}
	return deleted, nil
}

func (s *Store) ListExpenses(_ context.Context, unitID int64, from time.Time, to time.Time) ([]domain.ExpenseEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]domain.ExpenseEntry, 0)
	for _, entry := range s.expenses {
		if entry.UnitID != unitID || !inRange(entry.TransactionDate, from, to) {
			continue
		}
		entries = append(entries, entry)
	}
	slices.SortFunc(entries, func(a, b domain.ExpenseEntry) int {
		if a.TransactionDate.Equal(b.TransactionDate) {
			return int(a.ID - b.ID)
		}
		if a.TransactionDate.Before(b.TransactionDate) {
			return -1
		}
		return 1
	})
	return entries, nil
}

func (s *Store) SumSales(_ context.Context, unitID int64, from time.Time, to time.Time) (domain.PeriodTotals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	totals := domain.PeriodTotals{Amount: decimal.Zero, NetAmount: decimal.Zero}
	for _, entry := range s.sales {
		if entry.UnitID != unitID || !inRange(entry.RevenueDate, from, to) {
			continue
		}
		totals.Amount = totals.Amount.Add(entry.Amount)
		totals.NetAmount = totals.NetAmount.Add(entry.NetAmount)
	}
	return totals, nil
}

func (s *Store) SumExpenses(_ context.Context, unitID int64, from time.Time, to time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, entry := range s.expenses {
		if entry.UnitID != unitID || !inRange(entry.TransactionDate, from, to) {
			continue
		}
		total = total.Add(entry.Amount)
	}
	return total, nil
}

func (s *Store) MonthlyTotals(_ context.Context, unitID int64, year int) ([]domain.MonthlyTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byMonth := make(map[int]*domain.MonthlyTotal)
	bucket := func(month int) *domain.MonthlyTotal {
		if b, ok := byMonth[month]; ok {
			return b
		}
		b := &domain.MonthlyTotal{Month: month, Sales: decimal.Zero, Expenses: decimal.Zero}
		byMonth[month] = b
		return b
	}

	for _, entry := range s.sales {
		if entry.UnitID != unitID || entry.PeriodYear != year {
			continue
		}
		b := bucket(entry.PeriodMonth)
		b.Sales = b.Sales.Add(entry.Amount)
	}
	for _, entry := range s.expenses {
		if entry.UnitID != unitID || entry.TransactionDate.Year() != year {
			continue
		}
		b := bucket(int(entry.TransactionDate.Month()))
		b.Expenses = b.Expenses.Add(entry.Amount)
	}

	totals := make([]domain.MonthlyTotal, 0, len(byMonth))
	for _, b := range byMonth {
		totals = append(totals, *b)
	}
	slices.SortFunc(totals, func(a, b domain.MonthlyTotal) int {
		return a.Month - b.Month
	})
	return totals, nil
}

func (s *Store) ProductTotals(_ context.Context, unitID int64, year int, month int) ([]domain.ProductTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byName := make(map[string]*domain.ProductTotal)
	for _, entry := range s.sales {
		if entry.UnitID != unitID || entry.PeriodYear != year || entry.PeriodMonth != month {
			continue
		}
		if entry.Status != domain.EntryStatusVerified {
			continue
		}
		for _, item := range entry.Items {
			total, ok := byName[item.ProductName]
			if !ok {
				total = &domain.ProductTotal{ProductName: item.ProductName, Revenue: decimal.Zero}
				byName[item.ProductName] = total
			}
			total.Quantity += item.Quantity
			total.Revenue = total.Revenue.Add(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity))))
		}
	}

	totals := make([]domain.ProductTotal, 0, len(byName))
	for _, t := range byName {
		totals = append(totals, *t)
	}
	slices.SortFunc(totals, func(a, b domain.ProductTotal) int {
		return strings.Compare(a.ProductName, b.ProductName)
	})
	return totals, nil
}

func (s *Store) UpsertRoyalty(_ context.Context, record domain.RoyaltyRecord) (*domain.RoyaltyRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := royaltyKey{unitID: record.UnitID, year: record.PeriodYear, month: record.PeriodMonth}
	if existing, ok := s.royalties[key]; ok {
		existing.Amount = record.Amount
		s.royalties[key] = existing
		copied := existing
		return &copied, nil
	}

	record.ID = s.nextRoyaltyID
	s.nextRoyaltyID++
	record.CreatedAt = time.Now().UTC()
	s.royalties[key] = record
	copied := record
	return &copied, nil
}

func (s *Store) ListRecentRoyalties(_ context.Context, unitID int64, limit int) ([]domain.RoyaltyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.RoyaltyRecord, 0)
	for _, r := range s.royalties {
		if r.UnitID != unitID {
			continue
		}
		records = append(records, r)
	}
	slices.SortFunc(records, func(a, b domain.RoyaltyRecord) int {
		if a.PeriodYear != b.PeriodYear {
			return b.PeriodYear - a.PeriodYear
		}
		return b.PeriodMonth - a.PeriodMonth
	})
	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, unitID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs := make([]domain.AuditLog, 0)
	for i := len(s.auditLogs) - 1; i >= 0; i-- {
		entry := s.auditLogs[i]
		if unitID != 0 && entry.UnitID != unitID {
			continue
		}
		if !inRange(entry.CreatedAt, from, to) {
			continue
		}
		logs = append(logs, entry)
		if limit > 0 && len(logs) >= limit {
			break
		}
	}
	return logs, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return fmt.Errorf("%w: username already exists", store.ErrValidation)
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

// inRange reports whether t falls in the half-open interval [from, to).
// Zero bounds are open.
func inRange(t time.Time, from time.Time, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && !t.Before(to) {
		return false
	}
	return true
}

func copyEntry(entry domain.RevenueEntry) domain.RevenueEntry {
	copied := entry
	copied.Items = make([]domain.LineItem, len(entry.Items))
	copy(copied.Items, entry.Items)
	return copied
}
