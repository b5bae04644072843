package memory

import (
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/diopweb/Sofalia-v7/internal/domain"
)

// seedUsers builds the demo accounts. Passwords come from SEED_ADMIN_PASSWORD
// and SEED_SELLER_PASSWORD; the dev defaults are only used by the in-memory
// repository, never when DATABASE_URL is set.
func seedUsers(logger *zap.Logger) map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	sellerPwd := envOr("SEED_SELLER_PASSWORD", "seller123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_SELLER_PASSWORD") == "" {
		logger.Warn("using default dev credentials, set SEED_ADMIN_PASSWORD and SEED_SELLER_PASSWORD to override")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		pseudo   string
		password string
		role     string
	}{
		{"admin", "Admin", adminPwd, domain.RoleAdmin},
		{"seller", "Vendeur", sellerPwd, domain.RoleSeller},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			logger.Fatal("failed to hash seed password", zap.String("username", u.username), zap.Error(err))
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Pseudo:    u.pseudo,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// NewSeeded returns a store holding a small demo catalog: one product of each
// topology, a two-level category tree and two customers with no open debt.
func NewSeeded(logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := New()
	now := time.Now().UTC()

	s.docs[domain.CollectionCompanyProfile][domain.CompanyProfileID] = domain.CompanyProfile{
		Name:                 "Sofalia",
		Address:              "Dakar",
		Phone:                "+221 77 000 00 00",
		InvoicePrefix:        "FAC-",
		RefundPrefix:         "REF-",
		DepositPrefix:        "DEP-",
		InvoiceFooterMessage: "Merci pour votre confiance",
	}

	for _, c := range []domain.Category{
		{ID: "cat-1", Name: "Alimentation"},
		{ID: "cat-2", Name: "Boissons", ParentID: "cat-1"},
		{ID: "cat-3", Name: "Textile"},
	} {
		s.docs[domain.CollectionCategories][c.ID] = c
	}

	for _, p := range []domain.Product{
		{
			ID: "p1", Name: "Jus de bissap", Type: domain.ProductTypeSimple, CategoryID: "cat-2",
			Price: 100, Quantity: 10, ReorderThreshold: 2,
		},
		{
			ID: "p2", Name: "T-shirt", Type: domain.ProductTypeVariant, CategoryID: "cat-3",
			BasePrice: 200, Variants: []domain.Variant{
				{ID: "v1", Name: "Small", PriceModifier: -10, Quantity: 5, ReorderThreshold: 1},
				{ID: "v2", Name: "Large", PriceModifier: 20, Quantity: 3, ReorderThreshold: 1},
			},
		},
		{
			ID: "p3", Name: "Pack bissap x2", Type: domain.ProductTypePack, CategoryID: "cat-2",
			Price: 180, ReorderThreshold: 1,
			PackItems: []domain.PackItem{{ProductID: "p1", Name: "Jus de bissap", Quantity: 2}},
		},
	} {
		p.CreatedAt, p.UpdatedAt = now, now
		s.docs[domain.CollectionProducts][p.ID] = p
	}

	for _, c := range []domain.Customer{
		{ID: "cust-walkin", Name: "Client de passage"},
		{ID: "cust-1", Name: "Awa Diop", Phone: "+221 77 123 45 67"},
	} {
		c.CreatedAt = now
		s.docs[domain.CollectionCustomers][c.ID] = c
	}

	s.usersByUsername = seedUsers(logger)
	return s
}
