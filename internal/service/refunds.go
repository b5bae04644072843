package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/diopweb/Sofalia-v7/internal/domain"
	"github.com/diopweb/Sofalia-v7/internal/invoicing"
	"github.com/diopweb/Sofalia-v7/internal/ledger"
	"github.com/diopweb/Sofalia-v7/internal/stock"
	"github.com/diopweb/Sofalia-v7/internal/store"
	"github.com/diopweb/Sofalia-v7/internal/xid"
)

// RefundSale reverses a sale: its outstanding amount leaves the customer's
// balance, the stock it consumed goes back on the shelf and a refund number
// is issued. Stock for products deleted since the sale is skipped and listed
// on the refund record.
func (s *Service) RefundSale(ctx context.Context, saleID string, req domain.RefundRequest) (domain.Refund, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Refund{}, err
	}
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Refund{}, domain.Invalid("sale id is required")
	}
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		req.Reason = "unspecified"
	}

	actor := actorOrSystem(ctx)
	var refund domain.Refund

	err := s.atomically(ctx, "refund_sale", func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.GetSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status == domain.SaleStatusRefunded {
			return domain.Invalid(fmt.Sprintf("sale %s is already refunded", sale.InvoiceID))
		}
		outstanding := ledger.Outstanding(sale)

		restocked, skipped, err := restock(ctx, tx, sale.Items)
		if err != nil {
			return err
		}
		for _, p := range restocked {
			p.UpdatedAt = s.now()
			if err := tx.PutProduct(ctx, p); err != nil {
				return err
			}
		}

		if outstanding > 0 {
			customer, err := tx.GetCustomer(ctx, sale.CustomerID)
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: customer %s not found", domain.ErrInvalidCustomer, sale.CustomerID)
			}
			if err != nil {
				return err
			}
			customer.Balance -= outstanding
			if err := tx.PutCustomer(ctx, customer); err != nil {
				return err
			}
		}

		number, err := invoicing.Next(ctx, tx, invoicing.KindRefund)
		if err != nil {
			return err
		}

		now := s.now()
		sale.Status = domain.SaleStatusRefunded
		sale.RefundID = number.Formatted
		sale.RefundedAt = &now
		if err := tx.PutSale(ctx, sale); err != nil {
			return err
		}

		refund = domain.Refund{
			ID:             xid.New("refund"),
			RefundNumber:   number.Formatted,
			SaleID:         sale.ID,
			InvoiceID:      sale.InvoiceID,
			CustomerID:     sale.CustomerID,
			CustomerName:   sale.CustomerName,
			AmountReturned: sale.PaidAmount,
			DebtCancelled:  outstanding,
			Reason:         req.Reason,
			Items:          sale.Clone().Items,
			SkippedItems:   skipped,
			RefundDate:     now,
			UserID:         actor.Username,
		}
		return tx.InsertRefund(ctx, refund)
	})
	if err != nil {
		return domain.Refund{}, err
	}

	s.reorder.Invalidate(ctx)
	if len(refund.SkippedItems) > 0 {
		s.logger.Warn("refund skipped restock for missing products",
			zap.String("sale_id", refund.SaleID),
			zap.Strings("products", refund.SkippedItems),
		)
	}
	s.logAudit(ctx, "sale_refund", "sale", refund.SaleID,
		fmt.Sprintf("refund=%s,returned=%d,debt_cancelled=%d,reason=%s", refund.RefundNumber, refund.AmountReturned, refund.DebtCancelled, refund.Reason))
	return refund, nil
}

// restock returns the stock recorded on each line. Lines created before the
// consumed snapshot existed fall back to re-expanding the current product.
func restock(ctx context.Context, tx store.Tx, lines []domain.SaleLine) ([]domain.Product, []string, error) {
	movements := make([]stock.Movement, 0, len(lines))
	for _, line := range lines {
		if len(line.Consumed) > 0 {
			for _, m := range line.Consumed {
				movements = append(movements, stock.Movement{ProductID: m.ProductID, VariantID: m.VariantID, Quantity: m.Quantity})
			}
			continue
		}
		products, err := loadProducts(ctx, tx, []string{line.ProductID})
		if errors.Is(err, domain.ErrNotFound) {
			movements = append(movements, stock.Movement{ProductID: line.ProductID, VariantID: line.VariantID(), Quantity: line.Quantity})
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		moves, err := stock.Expand(products[line.ProductID], line.VariantID(), line.Quantity, stock.MapLookup(products))
		if err != nil {
			movements = append(movements, stock.Movement{ProductID: line.ProductID, VariantID: line.VariantID(), Quantity: line.Quantity})
			continue
		}
		movements = append(movements, moves...)
	}

	current := make(map[string]domain.Product)
	kept := make([]stock.Movement, 0, len(movements))
	skippedSet := make(map[string]struct{})
	for _, m := range movements {
		p, ok := current[m.ProductID]
		if !ok {
			loaded, err := tx.GetProduct(ctx, m.ProductID)
			if errors.Is(err, store.ErrNotFound) {
				skippedSet[m.ProductID] = struct{}{}
				continue
			}
			if err != nil {
				return nil, nil, err
			}
			p = loaded
			current[m.ProductID] = p
		}
		if m.VariantID != "" {
			if _, _, found := p.FindVariant(m.VariantID); !found {
				skippedSet[m.ProductID+"/"+m.VariantID] = struct{}{}
				continue
			}
		} else if p.Type != domain.ProductTypeSimple {
			skippedSet[m.ProductID] = struct{}{}
			continue
		}
		kept = append(kept, m)
	}

	skipped := make([]string, 0, len(skippedSet))
	for key := range skippedSet {
		skipped = append(skipped, key)
	}
	sort.Strings(skipped)

	if len(kept) == 0 {
		return nil, skipped, nil
	}
	updated, err := stock.ApplyIncrement(current, kept)
	if err != nil {
		return nil, nil, err
	}
	out := make([]domain.Product, 0, len(updated))
	for _, p := range updated {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, skipped, nil
}

func (s *Service) ListRefunds(ctx context.Context, customerID string, limit int) ([]domain.Refund, error) {
	return s.repo.ListRefunds(ctx, store.LedgerFilter{CustomerID: customerID, Limit: limit})
}
