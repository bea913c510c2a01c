package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"waralabaku/backend/internal/domain"
	"waralabaku/backend/internal/store"
)

func TestCreateSaleDecrementsInventory(t *testing.T) {
	databaseURL := os.Getenv("WARALABAKU_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set WARALABAKU_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})

	stamp := time.Now().UnixNano()
	productName := fmt.Sprintf("Produk Sale IT %d", stamp)

	var unitID int64
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO units (franchise_id, name)
		VALUES (1, $1)
		RETURNING id
	`, fmt.Sprintf("Unit Sale IT %d", stamp)).Scan(&unitID); err != nil {
		t.Fatalf("insert unit: %v", err)
	}

	var productID int64
	if err := s.db.QueryRowContext(ctx, `
		INSERT INTO products (franchise_id, name, unit_price, status)
		VALUES (1, $1, 15000, 'active')
		RETURNING id
	`, productName).Scan(&productID); err != nil {
		t.Fatalf("insert product: %v", err)
	}

	t.Cleanup(func() {
		_, _ = s.db.ExecContext(ctx, `DELETE FROM revenue_line_items WHERE entry_id IN (SELECT id FROM revenue_entries WHERE unit_id = $1)`, unitID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM revenue_entries WHERE unit_id = $1`, unitID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM inventory_records WHERE unit_id = $1`, unitID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM units WHERE id = $1`, unitID)
	})

	if _, err := s.CreateInventoryRecord(ctx, domain.InventoryRecord{
		UnitID:       unitID,
		ProductID:    productID,
		Quantity:     10,
		ReorderLevel: 2,
	}); err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	price := decimal.NewFromInt(15000)
	amount := price.Mul(decimal.NewFromInt(3))
	saleDate := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)

	entry := domain.RevenueEntry{
		UnitID:      unitID,
		FranchiseID: 1,
		Type:        domain.EntryTypeSales,
		Amount:      amount,
		NetAmount:   amount,
		RevenueDate: saleDate,
		PeriodYear:  2025,
		PeriodMonth: 6,
		Status:      domain.EntryStatusVerified,
		Items: []domain.LineItem{{
			ProductID:   productID,
			ProductName: productName,
			Quantity:    3,
			Price:       price,
		}},
	}

	created, remaining, err := s.CreateSale(ctx, entry)
	if err != nil {
		t.Fatalf("create sale: %v", err)
	}
	if remaining != 7 {
		t.Fatalf("expected 7 units remaining, got %d", remaining)
	}
	if created.ID == 0 || len(created.Items) != 1 || created.Items[0].ID == 0 {
		t.Fatalf("expected persisted ids on entry and line item, got %+v", created)
	}

	entry.Items[0].Quantity = 8
	if _, _, err := s.CreateSale(ctx, entry); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	record, err := s.GetInventoryRecord(ctx, unitID, productID)
	if err != nil {
		t.Fatalf("get inventory: %v", err)
	}
	if record.Quantity != 7 {
		t.Fatalf("expected stock untouched at 7 after rejected sale, got %d", record.Quantity)
	}
}
