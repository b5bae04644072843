// Package stock computes availability, low-stock flags and stock movements
// for simple, variant and pack products. Every function is pure: callers pass
// the products they read and persist whatever comes back.
package stock

import (
	"fmt"
	"strings"

	"github.com/diopweb/Sofalia-v7/internal/domain"
)

// maxPackDepth bounds nested pack evaluation.
const maxPackDepth = 8

// Lookup resolves a product by id from whatever snapshot the caller holds.
type Lookup func(productID string) (domain.Product, bool)

// MapLookup adapts a product map to a Lookup.
func MapLookup(products map[string]domain.Product) Lookup {
	return func(productID string) (domain.Product, bool) {
		p, ok := products[productID]
		return p, ok
	}
}

type PackPolicy string

const (
	// PackPolicyComponents flags a pack when any component is itself low.
	PackPolicyComponents PackPolicy = "components"
	// PackPolicyThreshold flags a pack when its derived availability is at or
	// below the pack's own reorderThreshold.
	PackPolicyThreshold PackPolicy = "threshold"
	// PackPolicyEither flags a pack when either rule holds.
	PackPolicyEither PackPolicy = "either"
)

func ParsePackPolicy(raw string) (PackPolicy, error) {
	switch PackPolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", PackPolicyEither:
		return PackPolicyEither, nil
	case PackPolicyComponents:
		return PackPolicyComponents, nil
	case PackPolicyThreshold:
		return PackPolicyThreshold, nil
	default:
		return "", fmt.Errorf("unknown pack low-stock policy %q", raw)
	}
}

// Available returns the quantity that can be sold right now.
func Available(p domain.Product, variantID string, lookup Lookup) (int, error) {
	return available(p, variantID, lookup, nil)
}

func available(p domain.Product, variantID string, lookup Lookup, path []string) (int, error) {
	switch p.Type {
	case domain.ProductTypeSimple:
		return max(p.Quantity, 0), nil
	case domain.ProductTypeVariant:
		v, _, ok := p.FindVariant(variantID)
		if !ok {
			return 0, fmt.Errorf("%w: variant %q of product %s", domain.ErrNotFound, variantID, p.ID)
		}
		return max(v.Quantity, 0), nil
	case domain.ProductTypePack:
		if len(path) >= maxPackDepth || contains(path, p.ID) || len(p.PackItems) == 0 {
			return 0, nil
		}
		path = append(path, p.ID)

		result := -1
		for _, item := range p.PackItems {
			if item.Quantity < 1 {
				return 0, nil
			}
			component, ok := lookup(item.ProductID)
			if !ok {
				return 0, nil
			}
			componentQty, err := available(component, item.VariantID, lookup, path)
			if err != nil {
				// A pack pointing at a vanished variant cannot be assembled.
				return 0, nil
			}
			units := componentQty / item.Quantity
			if result < 0 || units < result {
				result = units
			}
		}
		return max(result, 0), nil
	default:
		return 0, domain.Invalid(fmt.Sprintf("product %s has unknown type %q", p.ID, p.Type))
	}
}

// IsLowStock reports whether the product (or one of its variants) needs to be
// reordered under the given pack policy.
func IsLowStock(p domain.Product, variantID string, lookup Lookup, policy PackPolicy) (bool, error) {
	return isLow(p, variantID, lookup, policy, nil)
}

func isLow(p domain.Product, variantID string, lookup Lookup, policy PackPolicy, path []string) (bool, error) {
	switch p.Type {
	case domain.ProductTypeSimple:
		return max(p.Quantity, 0) <= p.ReorderThreshold, nil
	case domain.ProductTypeVariant:
		v, _, ok := p.FindVariant(variantID)
		if !ok {
			return false, fmt.Errorf("%w: variant %q of product %s", domain.ErrNotFound, variantID, p.ID)
		}
		return max(v.Quantity, 0) <= v.ReorderThreshold, nil
	case domain.ProductTypePack:
		if policy == "" {
			policy = PackPolicyEither
		}
		if policy == PackPolicyThreshold || policy == PackPolicyEither {
			derived, err := available(p, "", lookup, path)
			if err != nil {
				return false, err
			}
			if derived <= p.ReorderThreshold {
				return true, nil
			}
		}
		if policy == PackPolicyComponents || policy == PackPolicyEither {
			if len(path) >= maxPackDepth || contains(path, p.ID) {
				return true, nil
			}
			next := append(path, p.ID)
			for _, item := range p.PackItems {
				component, ok := lookup(item.ProductID)
				if !ok {
					return true, nil
				}
				low, err := isLow(component, item.VariantID, lookup, policy, next)
				if err != nil || low {
					return true, nil
				}
			}
		}
		return false, nil
	default:
		return false, domain.Invalid(fmt.Sprintf("product %s has unknown type %q", p.ID, p.Type))
	}
}

// Views lists one stock line per sellable unit of the product: the product
// itself for simple and pack types, one line per variant otherwise.
func Views(p domain.Product, lookup Lookup, policy PackPolicy) ([]domain.StockView, error) {
	if p.Type == domain.ProductTypeVariant {
		views := make([]domain.StockView, 0, len(p.Variants))
		for _, v := range p.Variants {
			low, err := IsLowStock(p, v.ID, lookup, policy)
			if err != nil {
				return nil, err
			}
			views = append(views, domain.StockView{
				ProductID:        p.ID,
				VariantID:        v.ID,
				Name:             p.Name + " - " + v.Name,
				Available:        max(v.Quantity, 0),
				ReorderThreshold: v.ReorderThreshold,
				LowStock:         low,
			})
		}
		return views, nil
	}

	qty, err := Available(p, "", lookup)
	if err != nil {
		return nil, err
	}
	low, err := IsLowStock(p, "", lookup, policy)
	if err != nil {
		return nil, err
	}
	return []domain.StockView{{
		ProductID:        p.ID,
		Name:             p.Name,
		Available:        qty,
		ReorderThreshold: p.ReorderThreshold,
		LowStock:         low,
	}}, nil
}

func contains(path []string, id string) bool {
	for _, seen := range path {
		if seen == id {
			return true
		}
	}
	return false
}
