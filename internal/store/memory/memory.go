package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/diopweb/Sofalia-v7/internal/domain"
	"github.com/diopweb/Sofalia-v7/internal/store"
	"github.com/diopweb/Sofalia-v7/internal/xid"
)

var collections = []string{
	domain.CollectionProducts,
	domain.CollectionCustomers,
	domain.CollectionCategories,
	domain.CollectionSales,
	domain.CollectionPayments,
	domain.CollectionDeposits,
	domain.CollectionRefunds,
	domain.CollectionCompanyProfile,
}

type docKey struct {
	collection string
	id         string
}

// membershipKey versions the set of ids in a collection. It moves whenever a
// document is created or deleted, so scans can detect phantoms.
func membershipKey(collection string) docKey {
	return docKey{collection: collection}
}

// Store is a versioned document store. Every document carries a version that
// only grows; units of work remember the versions they read and are rejected
// with store.ErrConflict at commit when any of them moved.
type Store struct {
	mu              sync.RWMutex
	docs            map[string]map[string]any
	versions        map[docKey]uint64
	auditLogs       []domain.AuditLog
	usersByUsername map[string]domain.UserAccount

	subMu       sync.Mutex
	subscribers map[int]*subscriber
	nextSubID   int
}

type subscriber struct {
	collection string
	ch         chan domain.ChangeEvent
}

func New() *Store {
	docs := make(map[string]map[string]any, len(collections))
	for _, c := range collections {
		docs[c] = make(map[string]any)
	}
	return &Store{
		docs:            docs,
		versions:        make(map[docKey]uint64),
		auditLogs:       make([]domain.AuditLog, 0, 128),
		usersByUsername: make(map[string]domain.UserAccount),
		subscribers:     make(map[int]*subscriber),
	}
}

func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	tx := newTx(s)
	if err := fn(ctx, tx); err != nil {
		return err
	}

	events, err := s.commit(tx)
	if err != nil {
		return err
	}
	s.publish(events)
	return nil
}

func (s *Store) commit(tx *memTx) ([]domain.ChangeEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, seen := range tx.reads {
		if s.versions[key] != seen {
			return nil, fmt.Errorf("%w: %s/%s changed", store.ErrConflict, key.collection, key.id)
		}
	}
	for key := range tx.inserts {
		if _, exists := s.docs[key.collection][key.id]; exists {
			return nil, fmt.Errorf("%w: %s/%s", store.ErrDuplicate, key.collection, key.id)
		}
	}

	now := time.Now().UTC()
	events := make([]domain.ChangeEvent, 0, len(tx.order))
	for _, key := range tx.order {
		w := tx.writes[key]
		if _, existed := s.docs[key.collection][key.id]; w.deleted || !existed {
			s.versions[membershipKey(key.collection)]++
		}
		op := domain.ChangeOpUpsert
		if w.deleted {
			delete(s.docs[key.collection], key.id)
			op = domain.ChangeOpDelete
		} else {
			s.docs[key.collection][key.id] = w.value
		}
		s.versions[key]++
		events = append(events, domain.ChangeEvent{Collection: key.collection, ID: key.id, Op: op, At: now})
	}
	return events, nil
}

func cloneDoc(v any) any {
	switch d := v.(type) {
	case domain.Product:
		return d.Clone()
	case domain.Sale:
		return d.Clone()
	case domain.Refund:
		sale := domain.Sale{Items: d.Items}.Clone()
		d.Items = sale.Items
		d.SkippedItems = slices.Clone(d.SkippedItems)
		return d
	default:
		return v
	}
}

func listTyped[T any](s *Store, collection string, keep func(T) bool) []T {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]T, 0, len(s.docs[collection]))
	for _, raw := range s.docs[collection] {
		doc := cloneDoc(raw).(T)
		if keep != nil && !keep(doc) {
			continue
		}
		out = append(out, doc)
	}
	return out
}

func getTyped[T any](s *Store, collection string, id string) (T, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	raw, ok := s.docs[collection][id]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%s", store.ErrNotFound, collection, id)
	}
	return cloneDoc(raw).(T), nil
}

// put writes a document outside of a unit of work.
func (s *Store) put(collection string, id string, value any) {
	s.mu.Lock()
	key := docKey{collection: collection, id: id}
	s.docs[collection][id] = cloneDoc(value)
	s.versions[key]++
	s.mu.Unlock()

	s.publish([]domain.ChangeEvent{{Collection: collection, ID: id, Op: domain.ChangeOpUpsert, At: time.Now().UTC()}})
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	products := listTyped[domain.Product](s, domain.CollectionProducts, nil)
	slices.SortFunc(products, func(a, b domain.Product) int { return strings.Compare(a.Name, b.Name) })
	return products, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (domain.Product, error) {
	return getTyped[domain.Product](s, domain.CollectionProducts, id)
}

func (s *Store) ListCategories(_ context.Context) ([]domain.Category, error) {
	categories := listTyped[domain.Category](s, domain.CollectionCategories, nil)
	slices.SortFunc(categories, func(a, b domain.Category) int { return strings.Compare(a.Name, b.Name) })
	return categories, nil
}

func (s *Store) GetCategory(_ context.Context, id string) (domain.Category, error) {
	return getTyped[domain.Category](s, domain.CollectionCategories, id)
}

func (s *Store) SaveCategory(_ context.Context, category domain.Category) error {
	if strings.TrimSpace(category.ID) == "" {
		return domain.Invalid("category id is required")
	}
	s.put(domain.CollectionCategories, category.ID, category)
	return nil
}

func (s *Store) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	if _, ok := s.docs[domain.CollectionCategories][id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: category %s", store.ErrNotFound, id)
	}
	delete(s.docs[domain.CollectionCategories], id)
	s.versions[docKey{collection: domain.CollectionCategories, id: id}]++
	s.mu.Unlock()

	s.publish([]domain.ChangeEvent{{Collection: domain.CollectionCategories, ID: id, Op: domain.ChangeOpDelete, At: time.Now().UTC()}})
	return nil
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	customers := listTyped[domain.Customer](s, domain.CollectionCustomers, nil)
	slices.SortFunc(customers, func(a, b domain.Customer) int { return strings.Compare(a.Name, b.Name) })
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (domain.Customer, error) {
	return getTyped[domain.Customer](s, domain.CollectionCustomers, id)
}

func (s *Store) ListSales(_ context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	sales := listTyped(s, domain.CollectionSales, func(sale domain.Sale) bool {
		if filter.CustomerID != "" && sale.CustomerID != filter.CustomerID {
			return false
		}
		if filter.Status != "" && sale.Status != filter.Status {
			return false
		}
		if filter.From != nil && sale.SaleDate.Before(*filter.From) {
			return false
		}
		if filter.To != nil && !sale.SaleDate.Before(*filter.To) {
			return false
		}
		if filter.OutstandingOnly && (sale.Status == domain.SaleStatusRefunded || sale.TotalPrice-sale.PaidAmount <= 0) {
			return false
		}
		return true
	})
	slices.SortFunc(sales, func(a, b domain.Sale) int {
		if c := b.SaleDate.Compare(a.SaleDate); c != 0 {
			return c
		}
		return strings.Compare(b.InvoiceID, a.InvoiceID)
	})
	if filter.Limit > 0 && len(sales) > filter.Limit {
		sales = sales[:filter.Limit]
	}
	return sales, nil
}

func (s *Store) GetSale(_ context.Context, id string) (domain.Sale, error) {
	return getTyped[domain.Sale](s, domain.CollectionSales, id)
}

func (s *Store) ListPayments(_ context.Context, filter store.LedgerFilter) ([]domain.Payment, error) {
	payments := listTyped(s, domain.CollectionPayments, func(p domain.Payment) bool {
		return (filter.SaleID == "" || p.SaleID == filter.SaleID) &&
			(filter.CustomerID == "" || p.CustomerID == filter.CustomerID)
	})
	slices.SortFunc(payments, func(a, b domain.Payment) int {
		if c := a.PaymentDate.Compare(b.PaymentDate); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return limit(payments, filter.Limit), nil
}

func (s *Store) ListDeposits(_ context.Context, filter store.LedgerFilter) ([]domain.Deposit, error) {
	deposits := listTyped(s, domain.CollectionDeposits, func(d domain.Deposit) bool {
		return filter.CustomerID == "" || d.CustomerID == filter.CustomerID
	})
	sortDeposits(deposits)
	return limit(deposits, filter.Limit), nil
}

func (s *Store) ListRefunds(_ context.Context, filter store.LedgerFilter) ([]domain.Refund, error) {
	refunds := listTyped(s, domain.CollectionRefunds, func(r domain.Refund) bool {
		return (filter.SaleID == "" || r.SaleID == filter.SaleID) &&
			(filter.CustomerID == "" || r.CustomerID == filter.CustomerID)
	})
	slices.SortFunc(refunds, func(a, b domain.Refund) int { return b.RefundDate.Compare(a.RefundDate) })
	return limit(refunds, filter.Limit), nil
}

func (s *Store) GetCompanyProfile(_ context.Context) (domain.CompanyProfile, error) {
	return getTyped[domain.CompanyProfile](s, domain.CollectionCompanyProfile, domain.CompanyProfileID)
}

func sortDeposits(deposits []domain.Deposit) {
	slices.SortFunc(deposits, func(a, b domain.Deposit) int {
		if c := a.DepositDate.Compare(b.DepositDate); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

func limit[T any](items []T, n int) []T {
	if n > 0 && len(items) > n {
		return items[:n]
	}
	return items
}

func (s *Store) Subscribe(ctx context.Context, collection string) (<-chan domain.ChangeEvent, error) {
	if !slices.Contains(collections, collection) {
		return nil, domain.Invalid(fmt.Sprintf("unknown collection %q", collection))
	}

	ch := make(chan domain.ChangeEvent, 64)
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = &subscriber{collection: collection, ch: ch}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subscribers, id)
		close(ch)
		s.subMu.Unlock()
	}()
	return ch, nil
}

// publish never blocks a writer: a subscriber that stops draining loses events.
func (s *Store) publish(events []domain.ChangeEvent) {
	if len(events) == 0 {
		return
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, sub := range s.subscribers {
		for _, ev := range events {
			if ev.Collection != sub.collection {
				continue
			}
			select {
			case sub.ch <- ev:
			default:
			}
		}
	}
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, 0, 64)
	for _, entry := range s.auditLogs {
		if entry.CreatedAt.Before(from) || !entry.CreatedAt.Before(to) {
			continue
		}
		result = append(result, entry)
	}

	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return strings.Compare(b.ID, a.ID)
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return domain.Invalid("username and password are required")
	}
	if _, exists := s.usersByUsername[username]; exists {
		return fmt.Errorf("%w: user %s", store.ErrDuplicate, username)
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleSeller
	}
	if user.Pseudo == "" {
		user.Pseudo = username
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.Invalid("username and password are required")
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}
