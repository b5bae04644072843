package postgres

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/diopweb/Sofalia-v7/internal/domain"
	"github.com/diopweb/Sofalia-v7/internal/service"
	"github.com/diopweb/Sofalia-v7/internal/store"
	"github.com/diopweb/Sofalia-v7/internal/xid"
)

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	databaseURL := os.Getenv("SOFALIA_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set SOFALIA_TEST_DATABASE_URL to run postgres integration test")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func seedProduct(t *testing.T, s *Store, p domain.Product) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.PutProduct(ctx, p)
	}))
	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, `DELETE FROM products WHERE id = $1`, p.ID)
	})
}

func seedCustomer(t *testing.T, s *Store, c domain.Customer) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.PutCustomer(ctx, c)
	}))
	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, `DELETE FROM payments WHERE customer_id = $1`, c.ID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM sales WHERE customer_id = $1`, c.ID)
		_, _ = s.pool.Exec(ctx, `DELETE FROM customers WHERE id = $1`, c.ID)
	})
}

func TestProductRoundTripKeepsVariants(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	id := xid.New("it-prod")
	seedProduct(t, s, domain.Product{
		ID: id, Name: "T-shirt IT", Type: domain.ProductTypeVariant, BasePrice: 200,
		Variants: []domain.Variant{{ID: "v1", Name: "Small", PriceModifier: -10, Quantity: 5}},
	})

	got, err := s.GetProduct(ctx, id)
	require.NoError(t, err)
	require.Len(t, got.Variants, 1)
	assert.Equal(t, int64(-10), got.Variants[0].PriceModifier)
	assert.Nil(t, got.PackItems)

	_, err = s.GetProduct(ctx, xid.New("missing"))
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRunAtomicRollsBackOnError(t *testing.T) {
	s := newIntegrationStore(t)
	ctx := context.Background()

	id := xid.New("it-prod")
	seedProduct(t, s, domain.Product{ID: id, Name: "Bissap IT", Type: domain.ProductTypeSimple, Price: 100, Quantity: 10})

	err := s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetProduct(ctx, id)
		if err != nil {
			return err
		}
		p.Quantity = 0
		if err := tx.PutProduct(ctx, p); err != nil {
			return err
		}
		return domain.ErrInsufficientStock
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	p, err := s.GetProduct(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Quantity)
}

func TestConcurrentSalesAgainstPostgresNeverOversell(t *testing.T) {
	s := newIntegrationStore(t)
	productID := xid.New("it-prod")
	customerID := xid.New("it-cust")
	seedProduct(t, s, domain.Product{ID: productID, Name: "Last units IT", Type: domain.ProductTypeSimple, Price: 100, Quantity: 3})
	seedCustomer(t, s, domain.Customer{ID: customerID, Name: "Client IT"})

	svc := service.New(s, nil, nil, 20)
	ctx := service.WithActor(context.Background(), domain.Actor{Username: "seller", Role: domain.RoleSeller})

	var g errgroup.Group
	results := make(chan error, 8)
	for range 8 {
		g.Go(func() error {
			_, err := svc.CreateSale(ctx, domain.SaleRequest{
				CustomerID: customerID,
				PaidAmount: 100,
				Items:      []domain.CartItem{{ProductID: productID, Quantity: 1}},
			})
			results <- err
			return nil
		})
	}
	require.NoError(t, g.Wait())
	close(results)

	sold := 0
	for err := range results {
		if err == nil {
			sold++
			continue
		}
		var stockErr *domain.InsufficientStockError
		if !errors.As(err, &stockErr) {
			t.Fatalf("unexpected sale error: %v", err)
		}
	}
	assert.Equal(t, 3, sold)

	p, err := s.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Quantity)
}

func TestSubscribeReceivesCommittedChanges(t *testing.T) {
	s := newIntegrationStore(t)

	require.Eventually(t, s.isListening, 5*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events, err := s.Subscribe(ctx, domain.CollectionProducts)
	require.NoError(t, err)

	id := xid.New("it-prod")
	seedProduct(t, s, domain.Product{ID: id, Name: "Notified IT", Type: domain.ProductTypeSimple, Price: 50})

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.ID != id {
				continue
			}
			assert.Equal(t, domain.ChangeOpUpsert, ev.Op)
			return
		case <-deadline:
			t.Fatal("no change notification received")
		}
	}
}

func TestSubscribeRejectsUnknownCollection(t *testing.T) {
	s := newIntegrationStore(t)

	_, err := s.Subscribe(context.Background(), "orders")
	require.ErrorIs(t, err, domain.ErrValidation)
}
