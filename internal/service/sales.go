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
	"github.com/diopweb/Sofalia-v7/internal/pricing"
	"github.com/diopweb/Sofalia-v7/internal/stock"
	"github.com/diopweb/Sofalia-v7/internal/store"
	"github.com/diopweb/Sofalia-v7/internal/xid"
)

// maxCatalogWalk caps how many products one cart may pull in through packs.
const maxCatalogWalk = 512

// CreateSale records a sale in one unit of work: stock is checked and taken,
// an invoice number is issued, the unpaid part is added to the customer's
// balance and any amount paid at the counter becomes the first payment.
func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	lines, err := normalizeCart(req.Items)
	if err != nil {
		return domain.Sale{}, err
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	if req.CustomerID == "" {
		return domain.Sale{}, fmt.Errorf("%w: customerId is required", domain.ErrInvalidCustomer)
	}
	if req.PaidAmount < 0 {
		return domain.Sale{}, fmt.Errorf("%w: paidAmount must be >= 0", domain.ErrInvalidAmount)
	}
	if req.DiscountAmount < 0 || req.VATAmount < 0 {
		return domain.Sale{}, domain.Invalid("discountAmount and vatAmount must be >= 0")
	}
	fallbackType := domain.PaymentTypeCash
	if req.PaidAmount == 0 {
		fallbackType = domain.PaymentTypeCredit
	}
	req.PaymentType = normalizePaymentType(req.PaymentType, fallbackType)
	if !isSupportedPaymentType(req.PaymentType) || req.PaymentType == domain.PaymentTypeDeposit {
		return domain.Sale{}, domain.Invalid(fmt.Sprintf("unsupported paymentType %q", req.PaymentType))
	}

	actor := actorOrSystem(ctx)
	var created domain.Sale

	err = s.atomically(ctx, "create_sale", func(ctx context.Context, tx store.Tx) error {
		customer, err := tx.GetCustomer(ctx, req.CustomerID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: customer %s not found", domain.ErrInvalidCustomer, req.CustomerID)
		}
		if err != nil {
			return err
		}

		roots := make([]string, 0, len(lines))
		for _, line := range lines {
			roots = append(roots, line.ProductID)
		}
		products, err := loadProducts(ctx, tx, roots)
		if err != nil {
			return err
		}
		lookup := stock.MapLookup(products)

		saleLines := make([]domain.SaleLine, 0, len(lines))
		subtotals := make([]int64, 0, len(lines))
		movements := make([]stock.Movement, 0, len(lines))
		for _, line := range lines {
			product := products[line.ProductID]

			unitPrice, err := pricing.UnitPrice(product, line.VariantID)
			if err != nil {
				return err
			}
			available, err := stock.Available(product, line.VariantID, lookup)
			if err != nil {
				return err
			}
			if available < line.Quantity {
				return &domain.InsufficientStockError{
					ProductID: product.ID,
					VariantID: line.VariantID,
					Requested: line.Quantity,
					Available: available,
				}
			}
			moves, err := stock.Expand(product, line.VariantID, line.Quantity, lookup)
			if err != nil {
				return err
			}
			movements = append(movements, moves...)

			subtotal := pricing.LineSubtotal(unitPrice, line.Quantity)
			subtotals = append(subtotals, subtotal)
			saleLines = append(saleLines, snapshotLine(product, line, unitPrice, subtotal, moves))
		}

		// Lines sharing a component are only safe once their demand is summed.
		updated, err := stock.ApplyDecrement(products, movements)
		if err != nil {
			return err
		}

		totals, err := pricing.CartTotal(subtotals, req.DiscountAmount, req.VATAmount)
		if err != nil {
			return err
		}
		if req.PaidAmount > totals.Total {
			return fmt.Errorf("%w: paidAmount %d exceeds total %d", domain.ErrInvalidAmount, req.PaidAmount, totals.Total)
		}
		status := ledger.SaleStatus(totals.Total, req.PaidAmount)

		number, err := invoicing.Next(ctx, tx, invoicing.KindInvoice)
		if err != nil {
			return err
		}

		now := s.now()
		ids := make([]string, 0, len(updated))
		for id := range updated {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			p := updated[id]
			p.UpdatedAt = now
			if err := tx.PutProduct(ctx, p); err != nil {
				return err
			}
		}

		if status != domain.SaleStatusCompleted {
			customer.Balance += totals.Total - req.PaidAmount
			if err := tx.PutCustomer(ctx, customer); err != nil {
				return err
			}
		}

		sale := domain.Sale{
			ID:             xid.New("sale"),
			InvoiceID:      number.Formatted,
			CustomerID:     customer.ID,
			CustomerName:   customer.Name,
			Items:          saleLines,
			Subtotal:       totals.Subtotal,
			DiscountAmount: totals.Discount,
			VATAmount:      totals.VAT,
			TotalPrice:     totals.Total,
			PaidAmount:     req.PaidAmount,
			Status:         status,
			PaymentType:    req.PaymentType,
			SaleDate:       now,
			UserID:         actor.Username,
			UserPseudo:     actor.Pseudo,
		}
		if err := tx.PutSale(ctx, sale); err != nil {
			return err
		}

		if req.PaidAmount > 0 {
			if err := tx.InsertPayment(ctx, domain.Payment{
				ID:           xid.New("pay"),
				SaleID:       sale.ID,
				InvoiceID:    sale.InvoiceID,
				CustomerID:   customer.ID,
				CustomerName: customer.Name,
				Amount:       req.PaidAmount,
				PaymentType:  req.PaymentType,
				PaymentDate:  now,
				UserID:       actor.Username,
			}); err != nil {
				return err
			}
		}

		created = sale
		return nil
	})
	if err != nil {
		return domain.Sale{}, err
	}

	s.reorder.Invalidate(ctx)
	s.logger.Info("sale created",
		zap.String("sale_id", created.ID),
		zap.String("invoice_id", created.InvoiceID),
		zap.Int64("total", created.TotalPrice),
		zap.Int64("paid", created.PaidAmount),
		zap.String("status", created.Status),
	)
	s.logAudit(ctx, "sale_create", "sale", created.ID,
		fmt.Sprintf("invoice=%s,total=%d,paid=%d,status=%s", created.InvoiceID, created.TotalPrice, created.PaidAmount, created.Status))
	return created, nil
}

// normalizeCart validates the request shape and merges duplicate lines.
func normalizeCart(items []domain.CartItem) ([]domain.CartItem, error) {
	if len(items) == 0 {
		return nil, domain.Invalid("cart must contain at least one item")
	}

	type key struct{ product, variant string }
	merged := make(map[key]int, len(items))
	order := make([]key, 0, len(items))
	for i, item := range items {
		k := key{product: strings.TrimSpace(item.ProductID), variant: strings.TrimSpace(item.VariantID)}
		if k.product == "" {
			return nil, domain.Invalid(fmt.Sprintf("item %d: productId is required", i))
		}
		if item.Quantity < 1 {
			return nil, domain.Invalid(fmt.Sprintf("item %d: quantity must be >= 1", i))
		}
		if _, seen := merged[k]; !seen {
			order = append(order, k)
		}
		merged[k] += item.Quantity
	}

	out := make([]domain.CartItem, 0, len(order))
	for _, k := range order {
		out = append(out, domain.CartItem{ProductID: k.product, VariantID: k.variant, Quantity: merged[k]})
	}
	return out, nil
}

// loadProducts reads the requested products and, transitively, every pack
// component through the unit of work. A missing root is an error; a missing
// component is left out so the pack simply reads as unavailable.
func loadProducts(ctx context.Context, tx store.Tx, roots []string) (map[string]domain.Product, error) {
	products := make(map[string]domain.Product, len(roots))
	isRoot := make(map[string]bool, len(roots))
	queue := make([]string, 0, len(roots))
	for _, id := range roots {
		isRoot[id] = true
		queue = append(queue, id)
	}

	visited := make(map[string]bool)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true
		if len(visited) > maxCatalogWalk {
			return nil, domain.Invalid("cart references too many products")
		}

		p, err := tx.GetProduct(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			if isRoot[id] {
				return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
			}
			continue
		}
		if err != nil {
			return nil, err
		}
		products[id] = p
		for _, item := range p.PackItems {
			queue = append(queue, item.ProductID)
		}
	}
	return products, nil
}

func snapshotLine(p domain.Product, item domain.CartItem, unitPrice int64, subtotal int64, moves []stock.Movement) domain.SaleLine {
	line := domain.SaleLine{
		ProductID:   p.ID,
		ProductName: p.Name,
		ProductType: p.Type,
		Quantity:    item.Quantity,
		UnitPrice:   unitPrice,
		Subtotal:    subtotal,
		Consumed:    make([]domain.StockMove, 0, len(moves)),
	}
	if p.Type == domain.ProductTypeVariant {
		v, _, _ := p.FindVariant(item.VariantID)
		line.Variant = &domain.VariantRef{ID: v.ID, Name: v.Name}
	}
	for _, m := range moves {
		line.Consumed = append(line.Consumed, domain.StockMove{ProductID: m.ProductID, VariantID: m.VariantID, Quantity: m.Quantity})
	}
	return line
}

func (s *Service) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	return s.repo.GetSale(ctx, id)
}

func (s *Service) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	if filter.Limit < 1 || filter.Limit > 500 {
		filter.Limit = 100
	}
	return s.repo.ListSales(ctx, filter)
}

// ListDebts returns sales that still carry an outstanding amount.
func (s *Service) ListDebts(ctx context.Context, customerID string) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, domain.SaleFilter{CustomerID: customerID, OutstandingOnly: true})
}
