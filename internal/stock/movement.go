package stock

import (
	"fmt"
	"sort"

	"github.com/diopweb/Sofalia-v7/internal/domain"
)

// Movement is a signed-agnostic quantity against one stock key: a simple
// product or one variant of a variant product. Packs never appear here.
type Movement struct {
	ProductID string
	VariantID string
	Quantity  int
}

type stockKey struct {
	productID string
	variantID string
}

// Expand translates a request for qty units of p into leaf movements. Packs
// expand to required*qty of every component, nested packs included.
func Expand(p domain.Product, variantID string, qty int, lookup Lookup) ([]Movement, error) {
	if qty < 1 {
		return nil, domain.Invalid(fmt.Sprintf("quantity for %s must be >= 1", p.ID))
	}
	return expand(p, variantID, qty, lookup, nil)
}

func expand(p domain.Product, variantID string, qty int, lookup Lookup, path []string) ([]Movement, error) {
	switch p.Type {
	case domain.ProductTypeSimple:
		return []Movement{{ProductID: p.ID, Quantity: qty}}, nil
	case domain.ProductTypeVariant:
		if _, _, ok := p.FindVariant(variantID); !ok {
			return nil, fmt.Errorf("%w: variant %q of product %s", domain.ErrNotFound, variantID, p.ID)
		}
		return []Movement{{ProductID: p.ID, VariantID: variantID, Quantity: qty}}, nil
	case domain.ProductTypePack:
		if len(path) >= maxPackDepth || contains(path, p.ID) {
			return nil, domain.Invalid(fmt.Sprintf("pack %s is nested too deep or contains itself", p.ID))
		}
		if len(p.PackItems) == 0 {
			return nil, domain.Invalid(fmt.Sprintf("pack %s has no items", p.ID))
		}
		path = append(path, p.ID)

		out := make([]Movement, 0, len(p.PackItems))
		for _, item := range p.PackItems {
			if item.Quantity < 1 {
				return nil, domain.Invalid(fmt.Sprintf("pack %s requires a positive quantity of %s", p.ID, item.ProductID))
			}
			component, ok := lookup(item.ProductID)
			if !ok {
				return nil, fmt.Errorf("%w: component %s of pack %s", domain.ErrNotFound, item.ProductID, p.ID)
			}
			nested, err := expand(component, item.VariantID, item.Quantity*qty, lookup, path)
			if err != nil {
				return nil, err
			}
			out = append(out, nested...)
		}
		return out, nil
	default:
		return nil, domain.Invalid(fmt.Sprintf("product %s has unknown type %q", p.ID, p.Type))
	}
}

// ApplyDecrement validates every aggregated movement against the current
// stock before producing any updated product. Either every touched product is
// returned with reduced stock or an *InsufficientStockError is returned and
// nothing changes.
func ApplyDecrement(products map[string]domain.Product, movements []Movement) (map[string]domain.Product, error) {
	return apply(products, movements, -1)
}

// ApplyIncrement is the inverse of ApplyDecrement, used when stock returns.
func ApplyIncrement(products map[string]domain.Product, movements []Movement) (map[string]domain.Product, error) {
	return apply(products, movements, 1)
}

func apply(products map[string]domain.Product, movements []Movement, sign int) (map[string]domain.Product, error) {
	totals := make(map[stockKey]int, len(movements))
	for _, m := range movements {
		if m.Quantity < 1 {
			return nil, domain.Invalid(fmt.Sprintf("movement quantity for %s must be >= 1", m.ProductID))
		}
		totals[stockKey{productID: m.ProductID, variantID: m.VariantID}] += m.Quantity
	}

	keys := make([]stockKey, 0, len(totals))
	for key := range totals {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].productID == keys[j].productID {
			return keys[i].variantID < keys[j].variantID
		}
		return keys[i].productID < keys[j].productID
	})

	// Validation pass.
	for _, key := range keys {
		p, ok := products[key.productID]
		if !ok {
			return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, key.productID)
		}
		current, err := leafQuantity(p, key.variantID)
		if err != nil {
			return nil, err
		}
		if sign < 0 && current < totals[key] {
			return nil, &domain.InsufficientStockError{
				ProductID: key.productID,
				VariantID: key.variantID,
				Requested: totals[key],
				Available: max(current, 0),
			}
		}
	}

	updated := make(map[string]domain.Product, len(keys))
	for _, key := range keys {
		p, ok := updated[key.productID]
		if !ok {
			p = products[key.productID].Clone()
		}
		delta := sign * totals[key]
		if key.variantID == "" {
			p.Quantity += delta
		} else {
			_, idx, _ := p.FindVariant(key.variantID)
			p.Variants[idx].Quantity += delta
		}
		updated[key.productID] = p
	}
	return updated, nil
}

func leafQuantity(p domain.Product, variantID string) (int, error) {
	switch p.Type {
	case domain.ProductTypeSimple:
		if variantID != "" {
			return 0, domain.Invalid(fmt.Sprintf("product %s has no variants", p.ID))
		}
		return p.Quantity, nil
	case domain.ProductTypeVariant:
		v, _, ok := p.FindVariant(variantID)
		if !ok {
			return 0, fmt.Errorf("%w: variant %q of product %s", domain.ErrNotFound, variantID, p.ID)
		}
		return v.Quantity, nil
	default:
		return 0, domain.Invalid(fmt.Sprintf("product %s of type %q holds no stock", p.ID, p.Type))
	}
}

// Decrement removes amount units of p (or of its components when p is a pack)
// and returns the updated stock-holding products sorted by id.
func Decrement(p domain.Product, variantID string, amount int, lookup Lookup) ([]domain.Product, error) {
	return move(p, variantID, amount, lookup, ApplyDecrement)
}

// Increment is the inverse of Decrement.
func Increment(p domain.Product, variantID string, amount int, lookup Lookup) ([]domain.Product, error) {
	return move(p, variantID, amount, lookup, ApplyIncrement)
}

func move(
	p domain.Product,
	variantID string,
	amount int,
	lookup Lookup,
	applyFn func(map[string]domain.Product, []Movement) (map[string]domain.Product, error),
) ([]domain.Product, error) {
	movements, err := Expand(p, variantID, amount, lookup)
	if err != nil {
		return nil, err
	}

	current := make(map[string]domain.Product, len(movements))
	for _, m := range movements {
		if m.ProductID == p.ID {
			current[p.ID] = p
			continue
		}
		component, ok := lookup(m.ProductID)
		if !ok {
			return nil, fmt.Errorf("%w: product %s", domain.ErrNotFound, m.ProductID)
		}
		current[m.ProductID] = component
	}

	updated, err := applyFn(current, movements)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Product, 0, len(updated))
	for _, product := range updated {
		out = append(out, product)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
