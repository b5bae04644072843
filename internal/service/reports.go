package service

import (
	"context"
	"errors"
	"time"

	"github.com/diopweb/Sofalia-v7/internal/domain"
	"github.com/diopweb/Sofalia-v7/internal/ledger"
	"github.com/diopweb/Sofalia-v7/internal/store"
)

// ReconcileBalances recomputes every customer's balance from sales and
// deposits and reports the ones that drifted. Candidates found in the bulk
// listings are confirmed against a consistent snapshot before being reported.
// It never writes.
func (s *Service) ReconcileBalances(ctx context.Context) (domain.ReconcileReport, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{})
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	deposits, err := s.repo.ListDeposits(ctx, store.LedgerFilter{})
	if err != nil {
		return domain.ReconcileReport{}, err
	}

	drifted := ledger.Reconcile(customers, sales, deposits)
	confirmed := make([]domain.BalanceDiscrepancy, 0, len(drifted))
	for _, d := range drifted {
		again, ok, err := s.recheckBalance(ctx, d.CustomerID)
		if err != nil {
			return domain.ReconcileReport{}, err
		}
		if ok {
			confirmed = append(confirmed, again)
		}
	}

	return domain.ReconcileReport{
		CheckedCustomers: len(customers),
		Discrepancies:    confirmed,
		GeneratedAt:      s.now().Format(time.RFC3339),
	}, nil
}

// recheckBalance recomputes one customer's balance inside a unit of work so
// the customer, sales and deposits come from one snapshot. A customer deleted
// meanwhile is not reported.
func (s *Service) recheckBalance(ctx context.Context, customerID string) (domain.BalanceDiscrepancy, bool, error) {
	var (
		out   domain.BalanceDiscrepancy
		drift bool
	)
	err := s.atomically(ctx, "reconcile_customer", func(ctx context.Context, tx store.Tx) error {
		drift = false
		customer, err := tx.GetCustomer(ctx, customerID)
		if err != nil {
			return err
		}
		sales, err := tx.ListCustomerSales(ctx, customerID)
		if err != nil {
			return err
		}
		deposits, err := tx.ListCustomerDeposits(ctx, customerID)
		if err != nil {
			return err
		}
		expected := ledger.ExpectedBalance(sales, deposits)
		if expected == customer.Balance {
			return nil
		}
		drift = true
		out = domain.BalanceDiscrepancy{
			CustomerID:      customer.ID,
			CustomerName:    customer.Name,
			StoredBalance:   customer.Balance,
			ExpectedBalance: expected,
			Drift:           customer.Balance - expected,
		}
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return domain.BalanceDiscrepancy{}, false, nil
	}
	if err != nil {
		return domain.BalanceDiscrepancy{}, false, err
	}
	return out, drift, nil
}

func (s *Service) CustomerStatement(ctx context.Context, customerID string) (domain.CustomerStatement, error) {
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.CustomerStatement{}, err
	}
	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{CustomerID: customerID})
	if err != nil {
		return domain.CustomerStatement{}, err
	}
	filter := store.LedgerFilter{CustomerID: customerID}
	payments, err := s.repo.ListPayments(ctx, filter)
	if err != nil {
		return domain.CustomerStatement{}, err
	}
	deposits, err := s.repo.ListDeposits(ctx, filter)
	if err != nil {
		return domain.CustomerStatement{}, err
	}
	refunds, err := s.repo.ListRefunds(ctx, filter)
	if err != nil {
		return domain.CustomerStatement{}, err
	}

	return domain.CustomerStatement{
		Customer:        customer,
		Sales:           sales,
		Payments:        payments,
		Deposits:        deposits,
		Refunds:         refunds,
		OutstandingDebt: ledger.OutstandingDebt(sales),
		AvailableCredit: ledger.AvailableCredit(deposits),
		ExpectedBalance: ledger.ExpectedBalance(sales, deposits),
	}, nil
}

// SalesSummary aggregates sales between two days, inclusive. Empty bounds
// default to today.
func (s *Service) SalesSummary(ctx context.Context, fromDay string, toDay string) (domain.SalesSummary, error) {
	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	from, err := parseDay(fromDay, today)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	lastDay, err := parseDay(toDay, from)
	if err != nil {
		return domain.SalesSummary{}, err
	}
	if lastDay.Before(from) {
		return domain.SalesSummary{}, domain.Invalid("to must not be before from")
	}
	to := lastDay.Add(24 * time.Hour)

	sales, err := s.repo.ListSales(ctx, domain.SaleFilter{From: &from, To: &to})
	if err != nil {
		return domain.SalesSummary{}, err
	}

	summary := domain.SalesSummary{
		From:          from.Format("2006-01-02"),
		To:            lastDay.Format("2006-01-02"),
		ByStatus:      make(map[string]int),
		ByPaymentType: make(map[string]int64),
	}
	for _, sale := range sales {
		summary.SaleCount++
		summary.ByStatus[sale.Status]++
		if sale.Status == domain.SaleStatusRefunded {
			summary.RefundedTotal += sale.TotalPrice
			continue
		}
		summary.GrossTotal += sale.TotalPrice
		summary.CollectedTotal += sale.PaidAmount
		summary.Outstanding += ledger.Outstanding(sale)
		summary.ByPaymentType[sale.PaymentType] += sale.PaidAmount
	}
	return summary, nil
}

func (s *Service) ReorderReport(ctx context.Context) (domain.ReorderReport, error) {
	return s.reorder.Report(ctx, s.repo.ListProducts)
}
