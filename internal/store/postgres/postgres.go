package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"waralabaku/backend/internal/domain"
	"waralabaku/backend/internal/store"
	"waralabaku/backend/internal/xid"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) GetUnit(ctx context.Context, unitID int64) (*domain.Unit, error) {
	var unit domain.Unit
	err := s.db.QueryRowContext(ctx, `
		SELECT id, franchise_id, name
		FROM units
		WHERE id = $1
	`, unitID).Scan(&unit.ID, &unit.FranchiseID, &unit.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &unit, nil
}

func (s *Store) FindActiveProductByName(ctx context.Context, franchiseID int64, name string) (*domain.Product, error) {
	var product domain.Product
	err := s.db.QueryRowContext(ctx, `
		SELECT id, franchise_id, name, unit_price, status
		FROM products
		WHERE franchise_id = $1 AND status = 'active' AND LOWER(name) = LOWER($2)
	`, franchiseID, strings.TrimSpace(name)).Scan(&product.ID, &product.FranchiseID, &product.Name, &product.UnitPrice, &product.Status)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrProductNotFound
		}
		return nil, err
	}
	return &product, nil
}

func (s *Store) ListProducts(ctx context.Context, franchiseID int64) ([]domain.Product, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, franchise_id, name, unit_price, status
		FROM products
		WHERE franchise_id = $1
		ORDER BY name
	`, franchiseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		var p domain.Product
		if err := rows.Scan(&p.ID, &p.FranchiseID, &p.Name, &p.UnitPrice, &p.Status); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetInventoryRecord(ctx context.Context, unitID int64, productID int64) (*domain.InventoryRecord, error) {
	var record domain.InventoryRecord
	err := s.db.QueryRowContext(ctx, `
		SELECT unit_id, product_id, quantity, reorder_level, updated_at
		FROM inventory_records
		WHERE unit_id = $1 AND product_id = $2
	`, unitID, productID).Scan(&record.UnitID, &record.ProductID, &record.Quantity, &record.ReorderLevel, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrProductNotInInventory
		}
		return nil, err
	}
	record.UpdatedAt = record.UpdatedAt.UTC()
	return &record, nil
}

func (s *Store) CreateInventoryRecord(ctx context.Context, record domain.InventoryRecord) (*domain.InventoryRecord, error) {
	if record.Quantity < 0 || record.ReorderLevel < 0 {
		return nil, fmt.Errorf("%w: quantity and reorder level must not be negative", store.ErrValidation)
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO inventory_records (unit_id, product_id, quantity, reorder_level, updated_at)
		VALUES ($1,$2,$3,$4,now())
		RETURNING updated_at
	`, record.UnitID, record.ProductID, record.Quantity, record.ReorderLevel).Scan(&record.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: product already in inventory", store.ErrValidation)
		}
		if isForeignKeyViolation(err) {
			return nil, store.ErrProductNotFound
		}
		return nil, err
	}
	record.UpdatedAt = record.UpdatedAt.UTC()
	created := record
	return &created, nil
}

func (s *Store) SetStockLevel(ctx context.Context, unitID int64, productID int64, quantity int) (*domain.InventoryRecord, error) {
	if quantity < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", store.ErrValidation)
	}

	var record domain.InventoryRecord
	err := s.db.QueryRowContext(ctx, `
		UPDATE inventory_records
		SET quantity = $3, updated_at = now()
		WHERE unit_id = $1 AND product_id = $2
		RETURNING unit_id, product_id, quantity, reorder_level, updated_at
	`, unitID, productID, quantity).Scan(&record.UnitID, &record.ProductID, &record.Quantity, &record.ReorderLevel, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrProductNotInInventory
		}
		return nil, err
	}
	record.UpdatedAt = record.UpdatedAt.UTC()
	return &record, nil
}

func (s *Store) DeleteInventoryRecord(ctx context.Context, unitID int64, productID int64) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM inventory_records
		WHERE unit_id = $1 AND product_id = $2
	`, unitID, productID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrProductNotInInventory
	}
	return nil
}

func (s *Store) ListInventory(ctx context.Context, unitID int64) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT i.unit_id, i.product_id, p.name, p.unit_price, i.quantity, i.reorder_level
		FROM inventory_records i
		JOIN products p ON p.id = i.product_id
		WHERE i.unit_id = $1
		ORDER BY p.name
	`, unitID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.InventoryItem, 0, 64)
	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.UnitID, &item.ProductID, &item.ProductName, &item.UnitPrice, &item.Quantity, &item.ReorderLevel); err != nil {
			return nil, err
		}
		item.LowStock = item.Quantity <= item.ReorderLevel
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) IncrementStock(ctx context.Context, unitID int64, productID int64, quantity int) (*domain.InventoryRecord, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}

	var record domain.InventoryRecord
	err := s.db.QueryRowContext(ctx, `
		UPDATE inventory_records
		SET quantity = quantity + $3, updated_at = now()
		WHERE unit_id = $1 AND product_id = $2
		RETURNING unit_id, product_id, quantity, reorder_level, updated_at
	`, unitID, productID, quantity).Scan(&record.UnitID, &record.ProductID, &record.Quantity, &record.ReorderLevel, &record.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrProductNotInInventory
		}
		return nil, err
	}
	record.UpdatedAt = record.UpdatedAt.UTC()
	return &record, nil
}

// DecrementStock relies on a conditional UPDATE so concurrent sales of the
// last units serialize on the row and losers never drive quantity negative.
func (s *Store) DecrementStock(ctx context.Context, unitID int64, productID int64, quantity int) (*domain.InventoryRecord, error) {
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}

	var record domain.InventoryRecord
	err := s.db.QueryRowContext(ctx, `
		UPDATE inventory_records
		SET quantity = quantity - $3, updated_at = now()
		WHERE unit_id = $1 AND product_id = $2 AND quantity >= $3
		RETURNING unit_id, product_id, quantity, reorder_level, updated_at
	`, unitID, productID, quantity).Scan(&record.UnitID, &record.ProductID, &record.Quantity, &record.ReorderLevel, &record.UpdatedAt)
	if err == nil {
		record.UpdatedAt = record.UpdatedAt.UTC()
		return &record, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	// No row matched: either the product is not stocked or stock ran short.
	// Re-read to tell the two apart and report the fresh quantity.
	existing, getErr := s.GetInventoryRecord(ctx, unitID, productID)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: only %d units available", store.ErrInsufficientStock, existing.Quantity)
}

func (s *Store) CreateSale(ctx context.Context, entry domain.RevenueEntry) (*domain.RevenueEntry, int, error) {
	if len(entry.Items) != 1 {
		return nil, 0, fmt.Errorf("%w: a sale entry carries exactly one line item", store.ErrValidation)
	}
	item := entry.Items[0]
	if item.Quantity < 1 {
		return nil, 0, fmt.Errorf("%w: quantity must be positive", store.ErrValidation)
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var available int
	err = tx.QueryRowContext(ctx, `
		SELECT quantity
		FROM inventory_records
		WHERE unit_id = $1 AND product_id = $2
		FOR UPDATE
	`, entry.UnitID, item.ProductID).Scan(&available)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, 0, store.ErrProductNotInInventory
		}
		return nil, 0, err
	}
	if available < item.Quantity {
		return nil, 0, fmt.Errorf("%w: only %d units available", store.ErrInsufficientStock, available)
	}

	var remaining int
	err = tx.QueryRowContext(ctx, `
		UPDATE inventory_records
		SET quantity = quantity - $3, updated_at = now()
		WHERE unit_id = $1 AND product_id = $2
		RETURNING quantity
	`, entry.UnitID, item.ProductID, item.Quantity).Scan(&remaining)
	if err != nil {
		return nil, 0, err
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO revenue_entries (unit_id, franchise_id, type, amount, net_amount, revenue_date, period_year, period_month, status, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,now())
		RETURNING id, created_at
	`, entry.UnitID, entry.FranchiseID, entry.Type, entry.Amount, entry.NetAmount, entry.RevenueDate,
		entry.PeriodYear, entry.PeriodMonth, entry.Status).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, 0, err
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO revenue_line_items (entry_id, product_id, product_name, quantity, price)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING id
	`, entry.ID, item.ProductID, item.ProductName, item.Quantity, item.Price).Scan(&item.ID)
	if err != nil {
		return nil, 0, err
	}

	if err := tx.Commit(); err != nil {
		return nil, 0, err
	}

	entry.Items = []domain.LineItem{item}
	entry.CreatedAt = entry.CreatedAt.UTC()
	created := entry
	return &created, remaining, nil
}

func (s *Store) GetSale(ctx context.Context, entryID int64) (*domain.RevenueEntry, error) {
	var entry domain.RevenueEntry
	err := s.db.QueryRowContext(ctx, `
		SELECT id, unit_id, franchise_id, type, amount, net_amount, revenue_date, period_year, period_month, status, created_at
		FROM revenue_entries
		WHERE id = $1
	`, entryID).Scan(&entry.ID, &entry.UnitID, &entry.FranchiseID, &entry.Type, &entry.Amount, &entry.NetAmount,
		&entry.RevenueDate, &entry.PeriodYear, &entry.PeriodMonth, &entry.Status, &entry.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSalesRecordNotFound
		}
		return nil, err
	}

	items, err := s.listLineItems(ctx, []int64{entry.ID})
	if err != nil {
		return nil, err
	}
	entry.Items = items[entry.ID]
	entry.RevenueDate = entry.RevenueDate.UTC()
	entry.CreatedAt = entry.CreatedAt.UTC()
	return &entry, nil
}

func (s *Store) UpdateSale(ctx context.Context, entry domain.RevenueEntry) (*domain.RevenueEntry, error) {
	if len(entry.Items) != 1 {
		return nil, fmt.Errorf("%w: a sale entry carries exactly one line item", store.ErrValidation)
	}
	item := entry.Items[0]

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	var ownerUnit int64
	err = tx.QueryRowContext(ctx, `
		SELECT unit_id
		FROM revenue_entries
		WHERE id = $1
		FOR UPDATE
	`, entry.ID).Scan(&ownerUnit)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSalesRecordNotFound
		}
		return nil, err
	}
	if ownerUnit != entry.UnitID {
		return nil, store.ErrSalesRecordNotFound
	}

	// Read the stored line item under the row lock so the delta is computed
	// against the current quantity, not a value the caller read earlier.
	// The old quantity counts only when the product is unchanged.
	var oldProductID int64
	var oldQuantity int
	err = tx.QueryRowContext(ctx, `
		SELECT product_id, quantity
		FROM revenue_line_items
		WHERE entry_id = $1
		ORDER BY id
		LIMIT 1
		FOR UPDATE
	`, entry.ID).Scan(&oldProductID, &oldQuantity)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if oldProductID != item.ProductID {
		oldQuantity = 0
	}
	stockDelta := item.Quantity - oldQuantity

	switch {
	case stockDelta > 0:
		var available int
		err = tx.QueryRowContext(ctx, `
			SELECT quantity
			FROM inventory_records
			WHERE unit_id = $1 AND product_id = $2
			FOR UPDATE
		`, entry.UnitID, item.ProductID).Scan(&available)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, store.ErrProductNotInInventory
			}
			return nil, err
		}
		if available < stockDelta {
			return nil, fmt.Errorf("%w: only %d units available for increase", store.ErrInsufficientStock, available)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE inventory_records
			SET quantity = quantity - $3, updated_at = now()
			WHERE unit_id = $1 AND product_id = $2
		`, entry.UnitID, item.ProductID, stockDelta)
		if err != nil {
			return nil, err
		}
	case stockDelta < 0:
		res, err := tx.ExecContext(ctx, `
			UPDATE inventory_records
			SET quantity = quantity + $3, updated_at = now()
			WHERE unit_id = $1 AND product_id = $2
		`, entry.UnitID, item.ProductID, -stockDelta)
		if err != nil {
			return nil, err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 0 {
			return nil, store.ErrProductNotInInventory
		}
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE revenue_entries
		SET amount = $2, net_amount = $3, revenue_date = $4, period_year = $5, period_month = $6, status = $7
		WHERE id = $1
	`, entry.ID, entry.Amount, entry.NetAmount, entry.RevenueDate, entry.PeriodYear, entry.PeriodMonth, entry.Status)
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE revenue_line_items
		SET product_id = $3, product_name = $4, quantity = $5, price = $6
		WHERE id = $1 AND entry_id = $2
	`, item.ID, entry.ID, item.ProductID, item.ProductName, item.Quantity, item.Price)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		err = tx.QueryRowContext(ctx, `
			INSERT INTO revenue_line_items (entry_id, product_id, product_name, quantity, price)
			VALUES ($1,$2,$3,$4,$5)
			RETURNING id
		`, entry.ID, item.ProductID, item.ProductName, item.Quantity, item.Price).Scan(&item.ID)
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	entry.Items = []domain.LineItem{item}
	saved := entry
	return &saved, nil
}

func (s *Store) DeleteSales(ctx context.Context, unitID int64, entryIDs []int64) (int, error) {
	if len(entryIDs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		DELETE FROM revenue_line_items
		WHERE entry_id IN (
			SELECT id FROM revenue_entries WHERE id = ANY($1) AND unit_id = $2
		)
	`, entryIDs, unitID)
	if err != nil {
		return 0, err
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM revenue_entries
		WHERE id = ANY($1) AND unit_id = $2
	`, entryIDs, unitID)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) ListSales(ctx context.Context, unitID int64, from time.Time, to time.Time) ([]domain.RevenueEntry, error) {
	query := `
		SELECT id, unit_id, franchise_id, type, amount, net_amount, revenue_date, period_year, period_month, status, created_at
		FROM revenue_entries
		WHERE unit_id = $1`
	args := []any{unitID}
	query, args = appendRange(query, args, "revenue_date", from, to)
	query += ` ORDER BY revenue_date, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.RevenueEntry, 0, 64)
	ids := make([]int64, 0, 64)
	for rows.Next() {
		var entry domain.RevenueEntry
		if err := rows.Scan(&entry.ID, &entry.UnitID, &entry.FranchiseID, &entry.Type, &entry.Amount, &entry.NetAmount,
			&entry.RevenueDate, &entry.PeriodYear, &entry.PeriodMonth, &entry.Status, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.RevenueDate = entry.RevenueDate.UTC()
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
		ids = append(ids, entry.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	items, err := s.listLineItems(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Items = items[entries[i].ID]
	}
	return entries, nil
}

func (s *Store) listLineItems(ctx context.Context, entryIDs []int64) (map[int64][]domain.LineItem, error) {
	result := make(map[int64][]domain.LineItem, len(entryIDs))
	if len(entryIDs) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, entry_id, product_id, product_name, quantity, price
		FROM revenue_line_items
		WHERE entry_id = ANY($1)
		ORDER BY id
	`, entryIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item domain.LineItem
		var entryID int64
		if err := rows.Scan(&item.ID, &entryID, &item.ProductID, &item.ProductName, &item.Quantity, &item.Price); err != nil {
			return nil, err
		}
		result[entryID] = append(result[entryID], item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) CreateExpense(ctx context.Context, entry domain.ExpenseEntry) (*domain.ExpenseEntry, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO expense_entries (unit_id, franchise_id, type, category, amount, description, transaction_date, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,now())
		RETURNING id, created_at
	`, entry.UnitID, entry.FranchiseID, entry.Type, entry.Category, entry.Amount, entry.Description, entry.TransactionDate).
		Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return nil, err
	}
	entry.CreatedAt = entry.CreatedAt.UTC()
	created := entry
	return &created, nil
}

func (s *Store) DeleteExpenses(ctx context.Context, unitID int64, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM expense_entries
		WHERE id = ANY($1) AND unit_id = $2
	`, ids, unitID)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) ListExpenses(ctx context.Context, unitID int64, from time.Time, to time.Time) ([]domain.ExpenseEntry, error) {
	query := `
		SELECT id, unit_id, franchise_id, type, category, amount, description, transaction_date, created_at
		FROM expense_entries
		WHERE unit_id = $1`
	args := []any{unitID}
	query, args = appendRange(query, args, "transaction_date", from, to)
	query += ` ORDER BY transaction_date, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]domain.ExpenseEntry, 0, 64)
	for rows.Next() {
		var entry domain.ExpenseEntry
		if err := rows.Scan(&entry.ID, &entry.UnitID, &entry.FranchiseID, &entry.Type, &entry.Category,
			&entry.Amount, &entry.Description, &entry.TransactionDate, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.TransactionDate = entry.TransactionDate.UTC()
		entry.CreatedAt = entry.CreatedAt.UTC()
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) SumSales(ctx context.Context, unitID int64, from time.Time, to time.Time) (domain.PeriodTotals, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0), COALESCE(SUM(net_amount), 0)
		FROM revenue_entries
		WHERE unit_id = $1`
	args := []any{unitID}
	query, args = appendRange(query, args, "revenue_date", from, to)

	var totals domain.PeriodTotals
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&totals.Amount, &totals.NetAmount); err != nil {
		return domain.PeriodTotals{}, err
	}
	return totals, nil
}

func (s *Store) SumExpenses(ctx context.Context, unitID int64, from time.Time, to time.Time) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(amount), 0)
		FROM expense_entries
		WHERE unit_id = $1`
	args := []any{unitID}
	query, args = appendRange(query, args, "transaction_date", from, to)

	var total decimal.Decimal
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return decimal.Decimal{}, err
	}
	return total, nil
}

func (s *Store) MonthlyTotals(ctx context.Context, unitID int64, year int) ([]domain.MonthlyTotal, error) {
	byMonth := make(map[int]*domain.MonthlyTotal)
	bucket := func(month int) *domain.MonthlyTotal {
		if b, ok := byMonth[month]; ok {
			return b
		}
		b := &domain.MonthlyTotal{Month: month, Sales: decimal.Zero, Expenses: decimal.Zero}
		byMonth[month] = b
		return b
	}

	salesRows, err := s.db.QueryContext(ctx, `
		SELECT period_month, COALESCE(SUM(amount), 0)
		FROM revenue_entries
		WHERE unit_id = $1 AND period_year = $2
		GROUP BY period_month
	`, unitID, year)
	if err != nil {
		return nil, err
	}
	for salesRows.Next() {
		var month int
		var total decimal.Decimal
		if err := salesRows.Scan(&month, &total); err != nil {
			_ = salesRows.Close()
			return nil, err
		}
		bucket(month).Sales = total
	}
	if err := salesRows.Err(); err != nil {
		_ = salesRows.Close()
		return nil, err
	}
	_ = salesRows.Close()

	expenseRows, err := s.db.QueryContext(ctx, `
		SELECT EXTRACT(MONTH FROM transaction_date)::int, COALESCE(SUM(amount), 0)
		FROM expense_entries
		WHERE unit_id = $1 AND EXTRACT(YEAR FROM transaction_date)::int = $2
		GROUP BY 1
	`, unitID, year)
	if err != nil {
		return nil, err
	}
	for expenseRows.Next() {
		var month int
		var total decimal.Decimal
		if err := expenseRows.Scan(&month, &total); err != nil {
			_ = expenseRows.Close()
			return nil, err
		}
		bucket(month).Expenses = total
	}
	if err := expenseRows.Err(); err != nil {
		_ = expenseRows.Close()
		return nil, err
	}
	_ = expenseRows.Close()

	totals := make([]domain.MonthlyTotal, 0, len(byMonth))
	for month := 1; month <= 12; month++ {
		if b, ok := byMonth[month]; ok {
			totals = append(totals, *b)
		}
	}
	return totals, nil
}

func (s *Store) ProductTotals(ctx context.Context, unitID int64, year int, month int) ([]domain.ProductTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT li.product_name, COALESCE(SUM(li.quantity), 0), COALESCE(SUM(li.price * li.quantity), 0)
		FROM revenue_line_items li
		JOIN revenue_entries e ON e.id = li.entry_id
		WHERE e.unit_id = $1 AND e.period_year = $2 AND e.period_month = $3 AND e.status = 'verified'
		GROUP BY li.product_name
		ORDER BY li.product_name
	`, unitID, year, month)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make([]domain.ProductTotal, 0, 32)
	for rows.Next() {
		var t domain.ProductTotal
		if err := rows.Scan(&t.ProductName, &t.Quantity, &t.Revenue); err != nil {
			return nil, err
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return totals, nil
}

func (s *Store) UpsertRoyalty(ctx context.Context, record domain.RoyaltyRecord) (*domain.RoyaltyRecord, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO royalty_records (unit_id, period_year, period_month, amount, created_at)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (unit_id, period_year, period_month)
		DO UPDATE SET amount = EXCLUDED.amount
		RETURNING id, created_at
	`, record.UnitID, record.PeriodYear, record.PeriodMonth, record.Amount).Scan(&record.ID, &record.CreatedAt)
	if err != nil {
		return nil, err
	}
	record.CreatedAt = record.CreatedAt.UTC()
	saved := record
	return &saved, nil
}

func (s *Store) ListRecentRoyalties(ctx context.Context, unitID int64, limit int) ([]domain.RoyaltyRecord, error) {
	if limit < 1 {
		limit = 4
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, unit_id, period_year, period_month, amount, created_at
		FROM royalty_records
		WHERE unit_id = $1
		ORDER BY period_year DESC, period_month DESC
		LIMIT $2
	`, unitID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := make([]domain.RoyaltyRecord, 0, limit)
	for rows.Next() {
		var r domain.RoyaltyRecord
		if err := rows.Scan(&r.ID, &r.UnitID, &r.PeriodYear, &r.PeriodMonth, &r.Amount, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.CreatedAt = r.CreatedAt.UTC()
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return records, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (id, unit_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.UnitID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, unitID int64, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	query := `
		SELECT id, unit_id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE 1 = 1`
	args := []any{}
	if unitID != 0 {
		args = append(args, unitID)
		query += fmt.Sprintf(" AND unit_id = $%d", len(args))
	}
	query, args = appendRange(query, args, "created_at", from, to)
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.UnitID, &entry.ActorUsername, &entry.ActorRole, &entry.Action,
			&entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_accounts (username, password, role, unit_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.Username, user.Password, user.Role, user.UnitID, user.Active, user.CreatedAt)
	if err != nil && isUniqueViolation(err) {
		return fmt.Errorf("%w: username already exists", store.ErrValidation)
	}
	return err
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, unit_id, active, created_at
		FROM user_accounts
		ORDER BY username
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.UnitID, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE user_accounts
		SET password = $2
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// appendRange adds half-open [from, to) bounds on column to the query.
// Zero bounds are skipped.
func appendRange(query string, args []any, column string, from time.Time, to time.Time) (string, []any) {
	if !from.IsZero() {
		args = append(args, from)
		query += fmt.Sprintf(" AND %s >= $%d", column, len(args))
	}
	if !to.IsZero() {
		args = append(args, to)
		query += fmt.Sprintf(" AND %s < $%d", column, len(args))
	}
	return query, args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503"
	}
	return false
}
