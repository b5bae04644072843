package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/diopweb/Sofalia-v7/internal/domain"
	"github.com/diopweb/Sofalia-v7/internal/store"
)

type pendingWrite struct {
	value   any
	deleted bool
}

// memTx buffers writes and records the version of every document it reads.
// Nothing is visible to other readers until Store.commit succeeds.
type memTx struct {
	store   *Store
	reads   map[docKey]uint64
	writes  map[docKey]pendingWrite
	inserts map[docKey]bool
	order   []docKey
}

func newTx(s *Store) *memTx {
	return &memTx{
		store:   s,
		reads:   make(map[docKey]uint64),
		writes:  make(map[docKey]pendingWrite),
		inserts: make(map[docKey]bool),
	}
}

func (t *memTx) read(key docKey) (any, bool) {
	if w, ok := t.writes[key]; ok {
		if w.deleted {
			return nil, false
		}
		return cloneDoc(w.value), true
	}

	t.store.mu.RLock()
	raw, ok := t.store.docs[key.collection][key.id]
	version := t.store.versions[key]
	t.store.mu.RUnlock()

	if _, seen := t.reads[key]; !seen {
		t.reads[key] = version
	}
	if !ok {
		return nil, false
	}
	return cloneDoc(raw), true
}

func (t *memTx) write(key docKey, value any, deleted bool) {
	if _, ok := t.writes[key]; !ok {
		t.order = append(t.order, key)
	}
	t.writes[key] = pendingWrite{value: cloneDoc(value), deleted: deleted}
}

func txGet[T any](t *memTx, collection string, id string) (T, error) {
	raw, ok := t.read(docKey{collection: collection, id: id})
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}
	return raw.(T), nil
}

func requireID(kind string, id string) error {
	if strings.TrimSpace(id) == "" {
		return domain.Invalid(kind + " id is required")
	}
	return nil
}

func (t *memTx) GetProduct(_ context.Context, id string) (domain.Product, error) {
	return txGet[domain.Product](t, domain.CollectionProducts, id)
}

func (t *memTx) PutProduct(_ context.Context, product domain.Product) error {
	if err := requireID("product", product.ID); err != nil {
		return err
	}
	t.write(docKey{collection: domain.CollectionProducts, id: product.ID}, product, false)
	return nil
}

func (t *memTx) DeleteProduct(_ context.Context, id string) error {
	key := docKey{collection: domain.CollectionProducts, id: id}
	if _, ok := t.read(key); !ok {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	t.write(key, nil, true)
	return nil
}

func (t *memTx) GetCustomer(_ context.Context, id string) (domain.Customer, error) {
	return txGet[domain.Customer](t, domain.CollectionCustomers, id)
}

func (t *memTx) PutCustomer(_ context.Context, customer domain.Customer) error {
	if err := requireID("customer", customer.ID); err != nil {
		return err
	}
	t.write(docKey{collection: domain.CollectionCustomers, id: customer.ID}, customer, false)
	return nil
}

func (t *memTx) DeleteCustomer(_ context.Context, id string) error {
	key := docKey{collection: domain.CollectionCustomers, id: id}
	if _, ok := t.read(key); !ok {
		return fmt.Errorf("%w: customer %s", store.ErrNotFound, id)
	}
	t.write(key, nil, true)
	return nil
}

func (t *memTx) GetSale(_ context.Context, id string) (domain.Sale, error) {
	return txGet[domain.Sale](t, domain.CollectionSales, id)
}

func (t *memTx) PutSale(_ context.Context, sale domain.Sale) error {
	if err := requireID("sale", sale.ID); err != nil {
		return err
	}
	t.write(docKey{collection: domain.CollectionSales, id: sale.ID}, sale, false)
	return nil
}

// scan reads every document of a collection that keep accepts, together with
// the collection membership, so a concurrent create or delete fails the
// commit.
func (t *memTx) scan(collection string, keep func(any) bool) []any {
	t.store.mu.RLock()
	ids := make([]string, 0, 16)
	for id, raw := range t.store.docs[collection] {
		if keep(raw) {
			ids = append(ids, id)
		}
	}
	membership := membershipKey(collection)
	if _, seen := t.reads[membership]; !seen {
		t.reads[membership] = t.store.versions[membership]
	}
	t.store.mu.RUnlock()

	for key, w := range t.writes {
		if key.collection == collection && !w.deleted && keep(w.value) {
			ids = append(ids, key.id)
		}
	}

	seen := make(map[string]struct{}, len(ids))
	docs := make([]any, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		raw, ok := t.read(docKey{collection: collection, id: id})
		if !ok || !keep(raw) {
			continue
		}
		docs = append(docs, raw)
	}
	return docs
}

func (t *memTx) ListCustomerSales(_ context.Context, customerID string) ([]domain.Sale, error) {
	docs := t.scan(domain.CollectionSales, func(raw any) bool {
		return raw.(domain.Sale).CustomerID == customerID
	})
	sales := make([]domain.Sale, 0, len(docs))
	for _, raw := range docs {
		sales = append(sales, raw.(domain.Sale))
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if c := a.SaleDate.Compare(b.SaleDate); c != 0 {
			return c
		}
		return strings.Compare(a.InvoiceID, b.InvoiceID)
	})
	return sales, nil
}

func (t *memTx) ListPacks(_ context.Context) ([]domain.Product, error) {
	docs := t.scan(domain.CollectionProducts, func(raw any) bool {
		return raw.(domain.Product).Type == domain.ProductTypePack
	})
	packs := make([]domain.Product, 0, len(docs))
	for _, raw := range docs {
		packs = append(packs, raw.(domain.Product))
	}
	slices.SortFunc(packs, func(a, b domain.Product) int { return strings.Compare(a.ID, b.ID) })
	return packs, nil
}

func (t *memTx) GetCompanyProfile(_ context.Context) (domain.CompanyProfile, error) {
	return txGet[domain.CompanyProfile](t, domain.CollectionCompanyProfile, domain.CompanyProfileID)
}

func (t *memTx) PutCompanyProfile(_ context.Context, profile domain.CompanyProfile) error {
	t.write(docKey{collection: domain.CollectionCompanyProfile, id: domain.CompanyProfileID}, profile, false)
	return nil
}

func (t *memTx) insert(collection string, id string, value any) error {
	if err := requireID(collection, id); err != nil {
		return err
	}
	key := docKey{collection: collection, id: id}
	if _, pending := t.writes[key]; pending {
		return fmt.Errorf("%w: %s/%s", store.ErrDuplicate, collection, id)
	}
	t.inserts[key] = true
	t.write(key, value, false)
	return nil
}

func (t *memTx) InsertPayment(_ context.Context, payment domain.Payment) error {
	return t.insert(domain.CollectionPayments, payment.ID, payment)
}

func (t *memTx) InsertDeposit(_ context.Context, deposit domain.Deposit) error {
	return t.insert(domain.CollectionDeposits, deposit.ID, deposit)
}

func (t *memTx) PutDeposit(_ context.Context, deposit domain.Deposit) error {
	if err := requireID("deposit", deposit.ID); err != nil {
		return err
	}
	t.write(docKey{collection: domain.CollectionDeposits, id: deposit.ID}, deposit, false)
	return nil
}

// ListCustomerDeposits reads every committed deposit of the customer through
// the read set, then overlays this unit's pending deposit writes.
func (t *memTx) ListCustomerDeposits(_ context.Context, customerID string) ([]domain.Deposit, error) {
	t.store.mu.RLock()
	ids := make([]string, 0, 8)
	for id, raw := range t.store.docs[domain.CollectionDeposits] {
		if raw.(domain.Deposit).CustomerID == customerID {
			ids = append(ids, id)
		}
	}
	t.store.mu.RUnlock()

	for key, w := range t.writes {
		if key.collection != domain.CollectionDeposits || w.deleted {
			continue
		}
		if w.value.(domain.Deposit).CustomerID == customerID {
			ids = append(ids, key.id)
		}
	}

	seen := make(map[string]struct{}, len(ids))
	deposits := make([]domain.Deposit, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		raw, ok := t.read(docKey{collection: domain.CollectionDeposits, id: id})
		if !ok {
			continue
		}
		deposits = append(deposits, raw.(domain.Deposit))
	}
	sortDeposits(deposits)
	return deposits, nil
}

func (t *memTx) InsertRefund(_ context.Context, refund domain.Refund) error {
	return t.insert(domain.CollectionRefunds, refund.ID, refund)
}
