package store

import (
	"context"
	"errors"
	"time"

	"github.com/diopweb/Sofalia-v7/internal/domain"
)

var (
	ErrNotFound = domain.ErrNotFound
	// ErrConflict means a concurrent writer touched a document this unit of
	// work read. The whole unit may be retried with fresh reads.
	ErrConflict  = errors.New("concurrent write conflict")
	ErrDuplicate = errors.New("duplicate key")
)

// Tx is the handle passed to a unit of work. Reads observe the unit's own
// pending writes.
type Tx interface {
	GetProduct(ctx context.Context, id string) (domain.Product, error)
	PutProduct(ctx context.Context, product domain.Product) error
	DeleteProduct(ctx context.Context, id string) error

	GetCustomer(ctx context.Context, id string) (domain.Customer, error)
	PutCustomer(ctx context.Context, customer domain.Customer) error
	DeleteCustomer(ctx context.Context, id string) error

	GetSale(ctx context.Context, id string) (domain.Sale, error)
	PutSale(ctx context.Context, sale domain.Sale) error
	ListCustomerSales(ctx context.Context, customerID string) ([]domain.Sale, error)

	// ListPacks returns every pack product. A pack created or changed by
	// another unit before this one commits makes the commit fail with
	// ErrConflict.
	ListPacks(ctx context.Context) ([]domain.Product, error)

	GetCompanyProfile(ctx context.Context) (domain.CompanyProfile, error)
	PutCompanyProfile(ctx context.Context, profile domain.CompanyProfile) error

	InsertPayment(ctx context.Context, payment domain.Payment) error
	InsertDeposit(ctx context.Context, deposit domain.Deposit) error
	PutDeposit(ctx context.Context, deposit domain.Deposit) error
	ListCustomerDeposits(ctx context.Context, customerID string) ([]domain.Deposit, error)
	InsertRefund(ctx context.Context, refund domain.Refund) error
}

type LedgerFilter struct {
	SaleID     string
	CustomerID string
	Limit      int
}

type Repository interface {
	// RunAtomic commits every write made through the Tx or none of them. It
	// returns ErrConflict when the unit lost a race with another writer.
	RunAtomic(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (domain.Product, error)

	ListCategories(ctx context.Context) ([]domain.Category, error)
	GetCategory(ctx context.Context, id string) (domain.Category, error)
	SaveCategory(ctx context.Context, category domain.Category) error
	DeleteCategory(ctx context.Context, id string) error

	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (domain.Customer, error)

	ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error)
	GetSale(ctx context.Context, id string) (domain.Sale, error)
	ListPayments(ctx context.Context, filter LedgerFilter) ([]domain.Payment, error)
	ListDeposits(ctx context.Context, filter LedgerFilter) ([]domain.Deposit, error)
	ListRefunds(ctx context.Context, filter LedgerFilter) ([]domain.Refund, error)

	GetCompanyProfile(ctx context.Context) (domain.CompanyProfile, error)

	// Subscribe streams change notifications for one collection until ctx is
	// cancelled, at which point the channel is closed.
	Subscribe(ctx context.Context, collection string) (<-chan domain.ChangeEvent, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
