package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/diopweb/Sofalia-v7/internal/domain"
	"github.com/diopweb/Sofalia-v7/internal/pricing"
	"github.com/diopweb/Sofalia-v7/internal/stock"
	"github.com/diopweb/Sofalia-v7/internal/store"
	"github.com/diopweb/Sofalia-v7/internal/xid"
)

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return s.repo.GetProduct(ctx, id)
}

// ProductStock reports live availability for every sellable unit of a
// product, deriving pack stock from its components.
func (s *Service) ProductStock(ctx context.Context, id string) (domain.ProductStock, error) {
	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return domain.ProductStock{}, err
	}
	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	product, ok := byID[id]
	if !ok {
		return domain.ProductStock{}, fmt.Errorf("%w: product %s", domain.ErrNotFound, id)
	}

	views, err := stock.Views(product, stock.MapLookup(byID), s.reorder.Policy())
	if err != nil {
		return domain.ProductStock{}, err
	}
	return domain.ProductStock{Product: product, Stock: views}, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	now := s.now()
	product := domain.Product{
		ID:               xid.New("prod"),
		Name:             strings.TrimSpace(req.Name),
		Type:             strings.ToLower(strings.TrimSpace(req.Type)),
		CategoryID:       strings.TrimSpace(req.CategoryID),
		Image:            req.Image,
		Price:            req.Price,
		BasePrice:        req.BasePrice,
		Quantity:         req.Quantity,
		ReorderThreshold: req.ReorderThreshold,
		Variants:         req.Variants,
		PackItems:        req.PackItems,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if product.Type == "" {
		product.Type = domain.ProductTypeSimple
	}

	if err := s.checkCategory(ctx, product.CategoryID); err != nil {
		return domain.Product{}, err
	}

	err := s.atomically(ctx, "create_product", func(ctx context.Context, tx store.Tx) error {
		normalized, err := normalizeProduct(ctx, tx, product)
		if err != nil {
			return err
		}
		product = normalized
		return tx.PutProduct(ctx, product)
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.reorder.Invalidate(ctx)
	s.logAudit(ctx, "product_create", "product", product.ID, fmt.Sprintf("name=%s,type=%s", product.Name, product.Type))
	return product, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}
	if req.CategoryID != nil {
		if err := s.checkCategory(ctx, strings.TrimSpace(*req.CategoryID)); err != nil {
			return domain.Product{}, err
		}
	}

	var saved domain.Product
	err := s.atomically(ctx, "update_product", func(ctx context.Context, tx store.Tx) error {
		existing, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}

		updated := existing.Clone()
		if req.Name != nil {
			updated.Name = strings.TrimSpace(*req.Name)
		}
		if req.CategoryID != nil {
			updated.CategoryID = strings.TrimSpace(*req.CategoryID)
		}
		if req.Image != nil {
			updated.Image = *req.Image
		}
		if req.Price != nil {
			updated.Price = *req.Price
		}
		if req.BasePrice != nil {
			updated.BasePrice = *req.BasePrice
		}
		if req.Quantity != nil {
			updated.Quantity = *req.Quantity
		}
		if req.ReorderThreshold != nil {
			updated.ReorderThreshold = *req.ReorderThreshold
		}
		if req.Variants != nil {
			updated.Variants = *req.Variants
		}
		if req.PackItems != nil {
			updated.PackItems = *req.PackItems
		}
		updated.UpdatedAt = s.now()

		normalized, err := normalizeProduct(ctx, tx, updated)
		if err != nil {
			return err
		}
		saved = normalized
		return tx.PutProduct(ctx, saved)
	})
	if err != nil {
		return domain.Product{}, err
	}

	s.reorder.Invalidate(ctx)
	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("name=%s,price=%d,base_price=%d", saved.Name, saved.Price, saved.BasePrice))
	return saved, nil
}

// DeleteProduct removes a product. Historical sales keep their snapshots;
// products still used as a pack component cannot be removed.
func (s *Service) DeleteProduct(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	if err := s.atomically(ctx, "delete_product", func(ctx context.Context, tx store.Tx) error {
		packs, err := tx.ListPacks(ctx)
		if err != nil {
			return err
		}
		for _, pack := range packs {
			for _, item := range pack.PackItems {
				if item.ProductID == id {
					return domain.Invalid(fmt.Sprintf("product %s is a component of pack %s", id, pack.Name))
				}
			}
		}
		return tx.DeleteProduct(ctx, id)
	}); err != nil {
		return err
	}

	s.reorder.Invalidate(ctx)
	s.logAudit(ctx, "product_delete", "product", id, "")
	return nil
}

// normalizeProduct validates a product for its type and clears fields the
// type does not use.
func normalizeProduct(ctx context.Context, tx store.Tx, p domain.Product) (domain.Product, error) {
	if p.Name == "" {
		return p, domain.Invalid("name is required")
	}
	if p.ReorderThreshold < 0 {
		return p, domain.Invalid("reorderThreshold must be >= 0")
	}

	switch p.Type {
	case domain.ProductTypeSimple:
		if p.Price < 0 || p.Quantity < 0 {
			return p, domain.Invalid("price and quantity must be >= 0")
		}
		p.BasePrice, p.Variants, p.PackItems = 0, nil, nil
	case domain.ProductTypeVariant:
		if p.BasePrice < 0 {
			return p, domain.Invalid("basePrice must be >= 0")
		}
		if len(p.Variants) == 0 {
			return p, domain.Invalid("a variant product needs at least one variant")
		}
		seen := make(map[string]bool, len(p.Variants))
		for i := range p.Variants {
			v := &p.Variants[i]
			v.Name = strings.TrimSpace(v.Name)
			if v.ID == "" {
				v.ID = xid.New("var")
			}
			if v.Name == "" || seen[v.ID] {
				return p, domain.Invalid(fmt.Sprintf("variant %d needs a unique id and a name", i))
			}
			seen[v.ID] = true
			if v.Quantity < 0 || v.ReorderThreshold < 0 {
				return p, domain.Invalid(fmt.Sprintf("variant %s quantity and threshold must be >= 0", v.Name))
			}
			if _, err := pricing.UnitPrice(p, v.ID); err != nil {
				return p, err
			}
		}
		p.Price, p.Quantity, p.PackItems = 0, 0, nil
	case domain.ProductTypePack:
		if p.Price < 0 {
			return p, domain.Invalid("price must be >= 0")
		}
		if len(p.PackItems) == 0 {
			return p, domain.Invalid("a pack needs at least one item")
		}
		for i := range p.PackItems {
			item := &p.PackItems[i]
			if item.Quantity < 1 {
				return p, domain.Invalid(fmt.Sprintf("pack item %d quantity must be >= 1", i))
			}
			if item.ProductID == p.ID {
				return p, domain.Invalid("a pack cannot contain itself")
			}
			component, err := tx.GetProduct(ctx, item.ProductID)
			if errors.Is(err, store.ErrNotFound) {
				return p, domain.Invalid(fmt.Sprintf("pack component %s does not exist", item.ProductID))
			}
			if err != nil {
				return p, err
			}
			if component.Type == domain.ProductTypeVariant {
				if _, _, ok := component.FindVariant(item.VariantID); !ok {
					return p, domain.Invalid(fmt.Sprintf("pack component %s needs a valid variantId", component.ID))
				}
			}
			if item.Name == "" {
				item.Name = component.Name
			}
		}
		if err := checkPackCycle(ctx, tx, p); err != nil {
			return p, err
		}
		p.BasePrice, p.Variants, p.Quantity = 0, nil, 0
	default:
		return p, domain.Invalid(fmt.Sprintf("type must be one of simple, variant, pack; got %q", p.Type))
	}
	return p, nil
}

func checkPackCycle(ctx context.Context, tx store.Tx, pack domain.Product) error {
	queue := make([]string, 0, len(pack.PackItems))
	for _, item := range pack.PackItems {
		queue = append(queue, item.ProductID)
	}
	visited := make(map[string]bool)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if id == pack.ID {
			return domain.Invalid("pack composition would contain itself")
		}
		if visited[id] {
			continue
		}
		visited[id] = true
		if len(visited) > maxCatalogWalk {
			return domain.Invalid("pack composition is too deep")
		}
		p, err := tx.GetProduct(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		for _, item := range p.PackItems {
			queue = append(queue, item.ProductID)
		}
	}
	return nil
}

func (s *Service) checkCategory(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if _, err := s.repo.GetCategory(ctx, id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.Invalid(fmt.Sprintf("category %s does not exist", id))
		}
		return err
	}
	return nil
}

func (s *Service) ListCategories(ctx context.Context) ([]domain.Category, error) {
	return s.repo.ListCategories(ctx)
}

func (s *Service) CreateCategory(ctx context.Context, req domain.CategoryRequest) (domain.Category, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Category{}, err
	}
	category := domain.Category{
		ID:       xid.New("cat"),
		Name:     strings.TrimSpace(req.Name),
		ParentID: strings.TrimSpace(req.ParentID),
	}
	if category.Name == "" {
		return domain.Category{}, domain.Invalid("name is required")
	}
	if err := s.checkCategory(ctx, category.ParentID); err != nil {
		return domain.Category{}, err
	}
	if err := s.repo.SaveCategory(ctx, category); err != nil {
		return domain.Category{}, err
	}
	s.logAudit(ctx, "category_create", "category", category.ID, category.Name)
	return category, nil
}

func (s *Service) UpdateCategory(ctx context.Context, id string, req domain.CategoryRequest) (domain.Category, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Category{}, err
	}
	category, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return domain.Category{}, err
	}
	category.Name = strings.TrimSpace(req.Name)
	category.ParentID = strings.TrimSpace(req.ParentID)
	if category.Name == "" {
		return domain.Category{}, domain.Invalid("name is required")
	}

	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return domain.Category{}, err
	}
	parents := make(map[string]string, len(categories))
	for _, c := range categories {
		parents[c.ID] = c.ParentID
	}
	if category.ParentID != "" {
		if _, ok := parents[category.ParentID]; !ok {
			return domain.Category{}, domain.Invalid(fmt.Sprintf("category %s does not exist", category.ParentID))
		}
	}
	parents[category.ID] = category.ParentID
	if hasCategoryCycle(parents, category.ID) {
		return domain.Category{}, domain.Invalid("category hierarchy would contain a cycle")
	}

	if err := s.repo.SaveCategory(ctx, category); err != nil {
		return domain.Category{}, err
	}
	s.logAudit(ctx, "category_update", "category", category.ID, fmt.Sprintf("name=%s,parent=%s", category.Name, category.ParentID))
	return category, nil
}

func hasCategoryCycle(parents map[string]string, start string) bool {
	seen := map[string]bool{}
	for id := start; id != ""; id = parents[id] {
		if seen[id] {
			return true
		}
		seen[id] = true
	}
	return false
}

func (s *Service) DeleteCategory(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	categories, err := s.repo.ListCategories(ctx)
	if err != nil {
		return err
	}
	for _, c := range categories {
		if c.ParentID == id {
			return domain.Invalid(fmt.Sprintf("category %s still has sub-category %s", id, c.Name))
		}
	}
	if err := s.repo.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.logAudit(ctx, "category_delete", "category", id, "")
	return nil
}
