package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"

	"waralabaku/backend/internal/domain"
	"waralabaku/backend/internal/store"
)

const royaltyPhaseCount = 4

// RoyaltySnapshot returns the four most recent royalty periods in
// chronological order. When fewer periods exist, the window is left-padded
// with zero-amount phases for the months preceding the oldest known one
// (or counting back from the current month when none exist).
func (s *Service) RoyaltySnapshot(ctx context.Context, unitID int64) (domain.RoyaltySnapshot, error) {
	records, err := s.repo.ListRecentRoyalties(ctx, unitID, royaltyPhaseCount)
	if err != nil {
		return domain.RoyaltySnapshot{}, err
	}

	current := decimal.Zero
	if len(records) > 0 {
		current = records[0].Amount
	}

	phases := make([]domain.RoyaltyPhase, 0, royaltyPhaseCount)
	for i := len(records) - 1; i >= 0; i-- {
		phases = append(phases, domain.RoyaltyPhase{
			PeriodYear:  records[i].PeriodYear,
			PeriodMonth: records[i].PeriodMonth,
			Amount:      records[i].Amount,
		})
	}
	for len(phases) < royaltyPhaseCount {
		var year, month int
		if len(phases) > 0 {
			year, month = prevPeriod(phases[0].PeriodYear, phases[0].PeriodMonth)
		} else {
			now := s.clock.Now()
			year, month = now.Year(), int(now.Month())
		}
		phases = append([]domain.RoyaltyPhase{{
			PeriodYear:  year,
			PeriodMonth: month,
			Amount:      decimal.Zero,
		}}, phases...)
	}

	return domain.RoyaltySnapshot{
		CurrentAmount: current,
		Phases:        phases,
	}, nil
}

// RecordRoyalty upserts the royalty total for one unit and period.
func (s *Service) RecordRoyalty(ctx context.Context, req domain.RoyaltyCreateRequest) (domain.RoyaltyRecord, error) {
	if req.Month < 1 || req.Month > 12 {
		return domain.RoyaltyRecord{}, fmt.Errorf("%w: month must be between 1 and 12", store.ErrValidation)
	}
	if req.Year < 1 {
		return domain.RoyaltyRecord{}, fmt.Errorf("%w: year must be positive", store.ErrValidation)
	}
	if req.Amount.IsNegative() {
		return domain.RoyaltyRecord{}, fmt.Errorf("%w: amount must not be negative", store.ErrValidation)
	}
	if _, err := s.repo.GetUnit(ctx, req.UnitID); err != nil {
		return domain.RoyaltyRecord{}, err
	}

	saved, err := s.repo.UpsertRoyalty(ctx, domain.RoyaltyRecord{
		UnitID:      req.UnitID,
		PeriodYear:  req.Year,
		PeriodMonth: req.Month,
		Amount:      req.Amount,
	})
	if err != nil {
		return domain.RoyaltyRecord{}, err
	}

	s.logAudit(ctx, req.UnitID, "royalty_record", "royalty_record", strconv.FormatInt(saved.ID, 10),
		fmt.Sprintf("period=%04d-%02d,amount=%s", req.Year, req.Month, req.Amount.String()))
	return *saved, nil
}

func prevPeriod(year int, month int) (int, int) {
	if month == 1 {
		return year - 1, 12
	}
	return year, month - 1
}
