package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diopweb/Sofalia-v7/internal/domain"
	"github.com/diopweb/Sofalia-v7/internal/store"
)

func TestRunAtomicCommitsAllWrites(t *testing.T) {
	s := NewSeeded(nil)
	ctx := context.Background()

	err := s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetProduct(ctx, "p1")
		if err != nil {
			return err
		}
		p.Quantity = 7
		if err := tx.PutProduct(ctx, p); err != nil {
			return err
		}

		again, err := tx.GetProduct(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 7, again.Quantity, "reads observe pending writes")

		committed, err := s.GetProduct(ctx, "p1")
		require.NoError(t, err)
		assert.Equal(t, 10, committed.Quantity, "pending writes stay private")
		return nil
	})
	require.NoError(t, err)

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 7, p.Quantity)
}

func TestRunAtomicDiscardsWritesOnError(t *testing.T) {
	s := NewSeeded(nil)
	ctx := context.Background()

	err := s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		p, _ := tx.GetProduct(ctx, "p1")
		p.Quantity = 0
		_ = tx.PutProduct(ctx, p)
		return domain.ErrInsufficientStock
	})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 10, p.Quantity)
}

func TestRunAtomicDetectsConflictingWriter(t *testing.T) {
	s := NewSeeded(nil)
	ctx := context.Background()

	err := s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		p, err := tx.GetProduct(ctx, "p1")
		if err != nil {
			return err
		}

		// A competing unit commits between our read and our commit.
		require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, other store.Tx) error {
			q, err := other.GetProduct(ctx, "p1")
			if err != nil {
				return err
			}
			q.Quantity--
			return other.PutProduct(ctx, q)
		}))

		p.Quantity -= 2
		return tx.PutProduct(ctx, p)
	})
	require.ErrorIs(t, err, store.ErrConflict)

	p, err := s.GetProduct(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 9, p.Quantity)
}

func TestRunAtomicDetectsPhantomCreate(t *testing.T) {
	s := New()
	ctx := context.Background()

	err := s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.GetCompanyProfile(ctx)
		require.ErrorIs(t, err, store.ErrNotFound)

		require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, other store.Tx) error {
			return other.PutCompanyProfile(ctx, domain.CompanyProfile{LastInvoiceNumber: 1})
		}))
		return tx.PutCompanyProfile(ctx, domain.CompanyProfile{LastInvoiceNumber: 1})
	})
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestInsertRejectsDuplicateIDs(t *testing.T) {
	s := NewSeeded(nil)
	ctx := context.Background()
	payment := domain.Payment{ID: "pay-1", SaleID: "s1", Amount: 10}

	require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPayment(ctx, payment)
	}))
	err := s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertPayment(ctx, payment)
	})
	require.ErrorIs(t, err, store.ErrDuplicate)

	payments, err := s.ListPayments(ctx, store.LedgerFilter{SaleID: "s1"})
	require.NoError(t, err)
	assert.Len(t, payments, 1)
}

func TestListCustomerDepositsSeesPendingWrites(t *testing.T) {
	s := NewSeeded(nil)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.InsertDeposit(ctx, domain.Deposit{ID: "dep-b", CustomerID: "cust-1", Amount: 50, DepositDate: base.Add(time.Hour)})
	}))

	require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.InsertDeposit(ctx, domain.Deposit{ID: "dep-a", CustomerID: "cust-1", Amount: 20, DepositDate: base}))
		require.NoError(t, tx.InsertDeposit(ctx, domain.Deposit{ID: "dep-x", CustomerID: "cust-walkin", Amount: 5, DepositDate: base}))

		deposits, err := tx.ListCustomerDeposits(ctx, "cust-1")
		require.NoError(t, err)
		require.Len(t, deposits, 2)
		assert.Equal(t, "dep-a", deposits[0].ID)
		assert.Equal(t, "dep-b", deposits[1].ID)
		return nil
	}))
}

func TestListPacksDetectsPackCreatedBeforeCommit(t *testing.T) {
	s := NewSeeded(nil)
	ctx := context.Background()

	err := s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		packs, err := tx.ListPacks(ctx)
		require.NoError(t, err)
		require.Len(t, packs, 1)
		assert.Equal(t, "p3", packs[0].ID)

		require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, other store.Tx) error {
			return other.PutProduct(ctx, domain.Product{
				ID: "p9", Name: "Polo duo", Type: domain.ProductTypePack, Price: 900,
				PackItems: []domain.PackItem{{ProductID: "p2", Quantity: 2}},
			})
		}))
		return tx.DeleteProduct(ctx, "p2")
	})
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = s.GetProduct(ctx, "p2")
	require.NoError(t, err)
}

func TestListPacksIgnoresUnrelatedProductEdits(t *testing.T) {
	s := NewSeeded(nil)
	ctx := context.Background()

	err := s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.ListPacks(ctx)
		require.NoError(t, err)

		require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, other store.Tx) error {
			p, err := other.GetProduct(ctx, "p1")
			if err != nil {
				return err
			}
			p.Quantity = 4
			return other.PutProduct(ctx, p)
		}))
		return tx.DeleteProduct(ctx, "p2")
	})
	require.NoError(t, err)
}

func TestListCustomerSalesSeesPendingAndDetectsNewSales(t *testing.T) {
	s := NewSeeded(nil)
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		return tx.PutSale(ctx, domain.Sale{ID: "s-b", InvoiceID: "FAC-00002", CustomerID: "cust-1", TotalPrice: 100, SaleDate: base.Add(time.Hour)})
	}))

	err := s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, tx.PutSale(ctx, domain.Sale{ID: "s-a", InvoiceID: "FAC-00001", CustomerID: "cust-1", TotalPrice: 50, SaleDate: base}))
		require.NoError(t, tx.PutSale(ctx, domain.Sale{ID: "s-x", InvoiceID: "FAC-00003", CustomerID: "cust-walkin", TotalPrice: 5, SaleDate: base}))

		sales, err := tx.ListCustomerSales(ctx, "cust-1")
		require.NoError(t, err)
		require.Len(t, sales, 2)
		assert.Equal(t, "s-a", sales[0].ID)
		assert.Equal(t, "s-b", sales[1].ID)

		require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, other store.Tx) error {
			return other.PutSale(ctx, domain.Sale{ID: "s-c", InvoiceID: "FAC-00004", CustomerID: "cust-1", TotalPrice: 70, SaleDate: base})
		}))
		return nil
	})
	require.ErrorIs(t, err, store.ErrConflict)
}

func TestSubscribeStreamsCommittedChanges(t *testing.T) {
	s := NewSeeded(nil)
	ctx, cancel := context.WithCancel(context.Background())

	events, err := s.Subscribe(ctx, domain.CollectionProducts)
	require.NoError(t, err)

	require.NoError(t, s.RunAtomic(context.Background(), func(ctx context.Context, tx store.Tx) error {
		if err := tx.PutCustomer(ctx, domain.Customer{ID: "cust-2", Name: "Moussa"}); err != nil {
			return err
		}
		return tx.DeleteProduct(ctx, "p3")
	}))

	select {
	case ev := <-events:
		assert.Equal(t, domain.CollectionProducts, ev.Collection)
		assert.Equal(t, "p3", ev.ID)
		assert.Equal(t, domain.ChangeOpDelete, ev.Op)
	case <-time.After(time.Second):
		t.Fatal("expected a product change event")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-events
		return !open
	}, time.Second, 10*time.Millisecond)

	_, err = s.Subscribe(context.Background(), "widgets")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestListSalesFilters(t *testing.T) {
	s := New()
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.RunAtomic(ctx, func(ctx context.Context, tx store.Tx) error {
		for _, sale := range []domain.Sale{
			{ID: "s1", InvoiceID: "FAC-00001", CustomerID: "c1", TotalPrice: 200, PaidAmount: 200, Status: domain.SaleStatusCompleted, SaleDate: day},
			{ID: "s2", InvoiceID: "FAC-00002", CustomerID: "c1", TotalPrice: 200, PaidAmount: 50, Status: domain.SaleStatusPartiallyPaid, SaleDate: day.Add(time.Hour)},
			{ID: "s3", InvoiceID: "FAC-00003", CustomerID: "c2", TotalPrice: 90, Status: domain.SaleStatusRefunded, SaleDate: day.Add(2 * time.Hour)},
		} {
			if err := tx.PutSale(ctx, sale); err != nil {
				return err
			}
		}
		return nil
	}))

	all, err := s.ListSales(ctx, domain.SaleFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "s3", all[0].ID, "newest first")

	debts, err := s.ListSales(ctx, domain.SaleFilter{OutstandingOnly: true})
	require.NoError(t, err)
	require.Len(t, debts, 1)
	assert.Equal(t, "s2", debts[0].ID)

	from := day.Add(30 * time.Minute)
	ranged, err := s.ListSales(ctx, domain.SaleFilter{CustomerID: "c1", From: &from})
	require.NoError(t, err)
	require.Len(t, ranged, 1)
	assert.Equal(t, "s2", ranged[0].ID)
}

func TestCategoryLifecycle(t *testing.T) {
	s := NewSeeded(nil)
	ctx := context.Background()

	require.NoError(t, s.SaveCategory(ctx, domain.Category{ID: "cat-9", Name: "Divers"}))
	c, err := s.GetCategory(ctx, "cat-9")
	require.NoError(t, err)
	assert.Equal(t, "Divers", c.Name)

	require.NoError(t, s.DeleteCategory(ctx, "cat-9"))
	assert.ErrorIs(t, s.DeleteCategory(ctx, "cat-9"), store.ErrNotFound)
}

func TestSeededUsersAreHashed(t *testing.T) {
	s := NewSeeded(nil)
	users, err := s.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 2)
	for _, u := range users {
		assert.True(t, strings.HasPrefix(u.Password, "$2"))
		assert.True(t, u.Active)
	}
}
