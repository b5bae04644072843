// Package ledger derives customer balances from sales and deposits.
//
// A customer's stored balance must always equal
//
//	sum(totalPrice - paidAmount) over non-refunded sales
//	- sum(amount - consumedAmount) over deposits
//
// Every mutating operation keeps the stored field in step; Reconcile finds
// the customers for which it drifted.
package ledger

import (
	"sort"

	"github.com/diopweb/Sofalia-v7/internal/domain"
)

// Outstanding is what the customer still owes on a sale.
func Outstanding(sale domain.Sale) int64 {
	if sale.Status == domain.SaleStatusRefunded {
		return 0
	}
	return max(sale.TotalPrice-sale.PaidAmount, 0)
}

// SaleStatus derives the payment status from the amounts. A zero-total sale
// is complete.
func SaleStatus(total int64, paid int64) string {
	switch {
	case paid >= total:
		return domain.SaleStatusCompleted
	case paid == 0:
		return domain.SaleStatusCredit
	default:
		return domain.SaleStatusPartiallyPaid
	}
}

func OutstandingDebt(sales []domain.Sale) int64 {
	var sum int64
	for _, sale := range sales {
		sum += Outstanding(sale)
	}
	return sum
}

func AvailableCredit(deposits []domain.Deposit) int64 {
	var sum int64
	for _, d := range deposits {
		sum += max(d.Remaining(), 0)
	}
	return sum
}

func ExpectedBalance(sales []domain.Sale, deposits []domain.Deposit) int64 {
	return OutstandingDebt(sales) - AvailableCredit(deposits)
}

// Reconcile compares every customer's stored balance with the one derived
// from the given sales and deposits. Results are sorted by customer name.
func Reconcile(customers []domain.Customer, sales []domain.Sale, deposits []domain.Deposit) []domain.BalanceDiscrepancy {
	salesBy := make(map[string][]domain.Sale)
	for _, sale := range sales {
		salesBy[sale.CustomerID] = append(salesBy[sale.CustomerID], sale)
	}
	depositsBy := make(map[string][]domain.Deposit)
	for _, d := range deposits {
		depositsBy[d.CustomerID] = append(depositsBy[d.CustomerID], d)
	}

	out := make([]domain.BalanceDiscrepancy, 0)
	for _, c := range customers {
		expected := ExpectedBalance(salesBy[c.ID], depositsBy[c.ID])
		if expected == c.Balance {
			continue
		}
		out = append(out, domain.BalanceDiscrepancy{
			CustomerID:      c.ID,
			CustomerName:    c.Name,
			StoredBalance:   c.Balance,
			ExpectedBalance: expected,
			Drift:           c.Balance - expected,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CustomerName == out[j].CustomerName {
			return out[i].CustomerID < out[j].CustomerID
		}
		return out[i].CustomerName < out[j].CustomerName
	})
	return out
}
