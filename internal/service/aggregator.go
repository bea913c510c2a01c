package service

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"waralabaku/backend/internal/domain"
	"waralabaku/backend/internal/store"
)

const (
	statsCacheTTL = 5 * time.Minute
	rankingSize   = 5
)

// SalesStatistics compares the current calendar month's sales total against
// the previous month's.
func (s *Service) SalesStatistics(ctx context.Context, unitID int64) (domain.SalesStatistics, error) {
	now := s.clock.Now()
	curFrom, curTo := monthWindow(now)
	prevFrom, prevTo := monthWindow(curFrom.AddDate(0, -1, 0))

	current, err := s.repo.SumSales(ctx, unitID, curFrom, curTo)
	if err != nil {
		return domain.SalesStatistics{}, err
	}
	previous, err := s.repo.SumSales(ctx, unitID, prevFrom, prevTo)
	if err != nil {
		return domain.SalesStatistics{}, err
	}

	return domain.SalesStatistics{
		CurrentMonthTotal:  current.Amount,
		PreviousMonthTotal: previous.Amount,
		PercentChange:      pctChange(current.Amount, previous.Amount),
	}, nil
}

// FinanceStatistics extends the sales comparison with expenses and profit.
// The result is cached for a few minutes when redis is configured.
func (s *Service) FinanceStatistics(ctx context.Context, unitID int64) (domain.FinanceStatistics, error) {
	now := s.clock.Now()
	key := financeStatsKey(unitID, now)
	if cached, found, err := s.stats.Get(ctx, key); err == nil && found {
		return *cached, nil
	} else if err != nil {
		s.log.Warn().Err(err).Int64("unit_id", unitID).Msg("finance stats cache read failed")
	}

	curFrom, curTo := monthWindow(now)
	prevFrom, prevTo := monthWindow(curFrom.AddDate(0, -1, 0))

	curSales, err := s.repo.SumSales(ctx, unitID, curFrom, curTo)
	if err != nil {
		return domain.FinanceStatistics{}, err
	}
	prevSales, err := s.repo.SumSales(ctx, unitID, prevFrom, prevTo)
	if err != nil {
		return domain.FinanceStatistics{}, err
	}
	curExpenses, err := s.repo.SumExpenses(ctx, unitID, curFrom, curTo)
	if err != nil {
		return domain.FinanceStatistics{}, err
	}
	prevExpenses, err := s.repo.SumExpenses(ctx, unitID, prevFrom, prevTo)
	if err != nil {
		return domain.FinanceStatistics{}, err
	}

	curProfit := curSales.Amount.Sub(curExpenses)
	prevProfit := prevSales.Amount.Sub(prevExpenses)

	stats := domain.FinanceStatistics{
		CurrentMonthSales:     curSales.Amount,
		PreviousMonthSales:    prevSales.Amount,
		SalesPercentChange:    pctChange(curSales.Amount, prevSales.Amount),
		CurrentMonthExpenses:  curExpenses,
		PreviousMonthExpenses: prevExpenses,
		ExpensePercentChange:  pctChange(curExpenses, prevExpenses),
		CurrentMonthProfit:    curProfit,
		PreviousMonthProfit:   prevProfit,
		ProfitPercentChange:   pctChange(curProfit, prevProfit),
	}

	if err := s.stats.Set(ctx, key, &stats, statsCacheTTL); err != nil {
		s.log.Warn().Err(err).Int64("unit_id", unitID).Msg("finance stats cache write failed")
	}
	return stats, nil
}

// MonthlySeries returns twelve buckets for the year, zero-filled for months
// without activity.
func (s *Service) MonthlySeries(ctx context.Context, unitID int64, year int) ([]domain.MonthlyBucket, error) {
	if year < 1 {
		return nil, fmt.Errorf("%w: year must be positive", store.ErrValidation)
	}

	totals, err := s.repo.MonthlyTotals(ctx, unitID, year)
	if err != nil {
		return nil, err
	}

	buckets := make([]domain.MonthlyBucket, 12)
	for i := range buckets {
		buckets[i] = domain.MonthlyBucket{
			Month:    i + 1,
			Sales:    decimal.Zero,
			Expenses: decimal.Zero,
			Profit:   decimal.Zero,
		}
	}
	for _, t := range totals {
		if t.Month < 1 || t.Month > 12 {
			continue
		}
		b := &buckets[t.Month-1]
		b.Sales = t.Sales
		b.Expenses = t.Expenses
		b.Profit = t.Sales.Sub(t.Expenses)
	}
	return buckets, nil
}

// ProductSalesRanking ranks verified sales line items of one calendar month
// by quantity sold. Bottom holds the five least-sold products with the
// most-sold of those first.
func (s *Service) ProductSalesRanking(ctx context.Context, unitID int64, year int, month int) (domain.ProductSalesRanking, error) {
	if month < 1 || month > 12 {
		return domain.ProductSalesRanking{}, fmt.Errorf("%w: month must be between 1 and 12", store.ErrValidation)
	}

	totals, err := s.repo.ProductTotals(ctx, unitID, year, month)
	if err != nil {
		return domain.ProductSalesRanking{}, err
	}

	slices.SortFunc(totals, func(a, b domain.ProductTotal) int {
		if a.Quantity != b.Quantity {
			return b.Quantity - a.Quantity
		}
		return strings.Compare(a.ProductName, b.ProductName)
	})

	ranked := make([]domain.ProductRanking, 0, len(totals))
	for _, t := range totals {
		ranked = append(ranked, domain.ProductRanking{
			ProductName:  t.ProductName,
			Quantity:     t.Quantity,
			Revenue:      t.Revenue,
			AveragePrice: averagePrice(t.Revenue, t.Quantity),
		})
	}

	top := ranked
	if len(top) > rankingSize {
		top = top[:rankingSize]
	}
	bottom := ranked
	if len(bottom) > rankingSize {
		bottom = bottom[len(bottom)-rankingSize:]
	}

	return domain.ProductSalesRanking{
		Top:    slices.Clone(top),
		Bottom: slices.Clone(bottom),
	}, nil
}

// ProfitTimeline fetches both ledgers for the range and merges them into
// per-day points.
func (s *Service) ProfitTimeline(ctx context.Context, unitID int64, fromStr string, toStr string) ([]domain.ProfitPoint, error) {
	from, to, err := parseRange(fromStr, toStr)
	if err != nil {
		return nil, err
	}

	sales, err := s.repo.ListSales(ctx, unitID, from, to)
	if err != nil {
		return nil, err
	}
	expenses, err := s.repo.ListExpenses(ctx, unitID, from, to)
	if err != nil {
		return nil, err
	}
	return buildProfitTimeline(sales, expenses), nil
}

// buildProfitTimeline groups both row sets by calendar date, unions the
// dates, zero-fills the side without activity and sorts newest first.
func buildProfitTimeline(sales []domain.RevenueEntry, expenses []domain.ExpenseEntry) []domain.ProfitPoint {
	revenueByDate := make(map[string]decimal.Decimal)
	for _, entry := range sales {
		date := entry.RevenueDate.Format(dateLayout)
		revenueByDate[date] = revenueByDate[date].Add(entry.Amount)
	}
	expenseByDate := make(map[string]decimal.Decimal)
	for _, entry := range expenses {
		date := entry.TransactionDate.Format(dateLayout)
		expenseByDate[date] = expenseByDate[date].Add(entry.Amount)
	}

	dates := make([]string, 0, len(revenueByDate)+len(expenseByDate))
	for date := range revenueByDate {
		dates = append(dates, date)
	}
	for date := range expenseByDate {
		if _, ok := revenueByDate[date]; !ok {
			dates = append(dates, date)
		}
	}
	slices.SortFunc(dates, func(a, b string) int {
		return strings.Compare(b, a)
	})

	points := make([]domain.ProfitPoint, 0, len(dates))
	for _, date := range dates {
		revenue := revenueByDate[date]
		expense := expenseByDate[date]
		points = append(points, domain.ProfitPoint{
			Date:    date,
			Revenue: revenue,
			Expense: expense,
			Profit:  revenue.Sub(expense),
		})
	}
	return points
}

// monthWindow returns the half-open window covering t's calendar month.
func monthWindow(t time.Time) (time.Time, time.Time) {
	from := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	return from, from.AddDate(0, 1, 0)
}

// pctChange is (cur-prev)/prev*100 rounded to two decimals, zero when the
// previous period had no activity.
func pctChange(cur decimal.Decimal, prev decimal.Decimal) decimal.Decimal {
	if prev.IsZero() {
		return decimal.Zero
	}
	return cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100)).Round(2)
}

func averagePrice(revenue decimal.Decimal, quantity int) decimal.Decimal {
	if quantity == 0 {
		return decimal.Zero
	}
	return revenue.Div(decimal.NewFromInt(int64(quantity))).Round(2)
}

func financeStatsKey(unitID int64, now time.Time) string {
	return fmt.Sprintf("stats:finance:%d:%04d-%02d", unitID, now.Year(), int(now.Month()))
}
