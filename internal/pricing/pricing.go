// Package pricing resolves unit prices and cart totals. Amounts are whole
// currency units.
package pricing

import (
	"fmt"

	"github.com/diopweb/Sofalia-v7/internal/domain"
)

type Totals struct {
	Subtotal int64
	Discount int64
	VAT      int64
	Total    int64
}

func UnitPrice(p domain.Product, variantID string) (int64, error) {
	var price int64
	switch p.Type {
	case domain.ProductTypeSimple, domain.ProductTypePack:
		price = p.Price
	case domain.ProductTypeVariant:
		v, _, ok := p.FindVariant(variantID)
		if !ok {
			return 0, fmt.Errorf("%w: variant %q of product %s", domain.ErrNotFound, variantID, p.ID)
		}
		price = p.BasePrice + v.PriceModifier
	default:
		return 0, domain.Invalid(fmt.Sprintf("product %s has unknown type %q", p.ID, p.Type))
	}
	if price < 0 {
		return 0, domain.Invalid(fmt.Sprintf("product %s resolves to a negative price", p.ID))
	}
	return price, nil
}

func LineSubtotal(unitPrice int64, quantity int) int64 {
	return unitPrice * int64(quantity)
}

// CartTotal sums line subtotals, subtracts the discount and adds VAT. A
// negative discount, negative VAT or a negative grand total is rejected.
func CartTotal(subtotals []int64, discount int64, vat int64) (Totals, error) {
	if discount < 0 {
		return Totals{}, domain.Invalid("discountAmount must be >= 0")
	}
	if vat < 0 {
		return Totals{}, domain.Invalid("vatAmount must be >= 0")
	}

	var sum int64
	for _, sub := range subtotals {
		sum += sub
	}
	total := sum - discount + vat
	if total < 0 {
		return Totals{}, domain.Invalid(fmt.Sprintf("discount %d exceeds cart value %d", discount, sum+vat))
	}
	return Totals{Subtotal: sum, Discount: discount, VAT: vat, Total: total}, nil
}
