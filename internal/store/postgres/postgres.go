package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/diopweb/Sofalia-v7/internal/domain"
	"github.com/diopweb/Sofalia-v7/internal/invoicing"
	"github.com/diopweb/Sofalia-v7/internal/store"
	"github.com/diopweb/Sofalia-v7/internal/xid"
)

//go:embed schema.sql
var schemaSQL string

// Store implements store.Repository on PostgreSQL. Units of work run as
// SERIALIZABLE transactions; serialization failures surface as
// store.ErrConflict so the service layer retries them.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger

	subMu       sync.Mutex
	subscribers map[int]*subscriber
	nextSubID   int
	listening   bool

	cancel context.CancelFunc
	done   chan struct{}
}

var _ store.Repository = (*Store)(nil)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, err
	}

	listenCtx, stop := context.WithCancel(context.Background())
	s := &Store{
		pool:        pool,
		logger:      logger.Named("postgres"),
		subscribers: make(map[int]*subscriber),
		cancel:      stop,
		done:        make(chan struct{}),
	}
	go s.listen(listenCtx)
	return s, nil
}

func (s *Store) Close() error {
	s.cancel()
	<-s.done
	s.pool.Close()
	return nil
}

// Migrate creates missing tables and the company profile row, then seeds the
// accounts table when it is empty. Seed passwords have no built-in defaults.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	// Every sale locks this row, so it has to exist before the first one.
	profile := invoicing.DefaultProfile()
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO company_profile (id, name, invoice_prefix, refund_prefix, deposit_prefix)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, domain.CompanyProfileID, profile.Name, profile.InvoicePrefix, profile.RefundPrefix, profile.DepositPrefix); err != nil {
		return fmt.Errorf("seed company profile: %w", err)
	}

	var users int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM app_users`).Scan(&users); err != nil {
		return err
	}
	if users > 0 {
		return nil
	}

	adminPwd := os.Getenv("SEED_ADMIN_PASSWORD")
	sellerPwd := os.Getenv("SEED_SELLER_PASSWORD")
	if adminPwd == "" {
		s.logger.Warn("no user accounts and SEED_ADMIN_PASSWORD is empty, nobody can sign in")
		return nil
	}
	seeds := []domain.UserAccount{{Username: "admin", Pseudo: "Admin", Password: adminPwd, Role: domain.RoleAdmin, Active: true}}
	if sellerPwd != "" {
		seeds = append(seeds, domain.UserAccount{Username: "seller", Pseudo: "Vendeur", Password: sellerPwd, Role: domain.RoleSeller, Active: true})
	}
	for _, user := range seeds {
		hash, err := bcrypt.GenerateFromPassword([]byte(user.Password), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		user.Password = string(hash)
		if err := s.CreateUser(ctx, user); err != nil && !errors.Is(err, store.ErrDuplicate) {
			return err
		}
		s.logger.Info("seeded user account", zap.String("username", user.Username), zap.String("role", user.Role))
	}
	return nil
}

func (s *Store) RunAtomic(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	pgTx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = pgTx.Rollback(ctx) }()

	unit := &unitOfWork{tx: pgTx}
	if err := fn(ctx, unit); err != nil {
		return classify(err)
	}
	if err := unit.notify(ctx); err != nil {
		return classify(err)
	}
	if err := pgTx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

const productColumns = `id, name, type, category_id, image, price, base_price, quantity,
	reorder_threshold, variants, pack_items, created_at, updated_at`

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	var variants, packItems []byte
	if err := row.Scan(&p.ID, &p.Name, &p.Type, &p.CategoryID, &p.Image, &p.Price, &p.BasePrice, &p.Quantity,
		&p.ReorderThreshold, &variants, &packItems, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return domain.Product{}, err
	}
	if err := decodeList(variants, &p.Variants); err != nil {
		return domain.Product{}, err
	}
	if err := decodeList(packItems, &p.PackItems); err != nil {
		return domain.Product{}, err
	}
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]domain.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := make([]domain.Product, 0, 64)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return products, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return getProduct(ctx, s.pool, id, false)
}

func getProduct(ctx context.Context, q querier, id string, lock bool) (domain.Product, error) {
	p, err := scanProduct(q.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`+forUpdate(lock), id))
	if err != nil {
		return domain.Product{}, notFound(err, "product", id)
	}
	return p, nil
}

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, parent_id FROM categories ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	categories := make([]domain.Category, 0, 32)
	for rows.Next() {
		var c domain.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.ParentID); err != nil {
			return nil, err
		}
		categories = append(categories, c)
	}
	return categories, rows.Err()
}

func (s *Store) GetCategory(ctx context.Context, id string) (domain.Category, error) {
	var c domain.Category
	err := s.pool.QueryRow(ctx, `SELECT id, name, parent_id FROM categories WHERE id = $1`, id).Scan(&c.ID, &c.Name, &c.ParentID)
	if err != nil {
		return domain.Category{}, notFound(err, "category", id)
	}
	return c, nil
}

func (s *Store) SaveCategory(ctx context.Context, category domain.Category) error {
	if strings.TrimSpace(category.ID) == "" {
		return domain.Invalid("category id is required")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO categories (id, name, parent_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, parent_id = EXCLUDED.parent_id
	`, category.ID, category.Name, category.ParentID)
	if err != nil {
		return err
	}
	s.announce(ctx, domain.ChangeEvent{Collection: domain.CollectionCategories, ID: category.ID, Op: domain.ChangeOpUpsert})
	return nil
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: category %s", store.ErrNotFound, id)
	}
	s.announce(ctx, domain.ChangeEvent{Collection: domain.CollectionCategories, ID: id, Op: domain.ChangeOpDelete})
	return nil
}

const customerColumns = `id, name, phone, email, address, balance, created_at`

func scanCustomer(row rowScanner) (domain.Customer, error) {
	var c domain.Customer
	if err := row.Scan(&c.ID, &c.Name, &c.Phone, &c.Email, &c.Address, &c.Balance, &c.CreatedAt); err != nil {
		return domain.Customer{}, err
	}
	c.CreatedAt = c.CreatedAt.UTC()
	return c, nil
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+customerColumns+` FROM customers ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	return getCustomer(ctx, s.pool, id, false)
}

func getCustomer(ctx context.Context, q querier, id string, lock bool) (domain.Customer, error) {
	c, err := scanCustomer(q.QueryRow(ctx, `SELECT `+customerColumns+` FROM customers WHERE id = $1`+forUpdate(lock), id))
	if err != nil {
		return domain.Customer{}, notFound(err, "customer", id)
	}
	return c, nil
}

const saleColumns = `id, invoice_id, customer_id, customer_name, items, subtotal, discount_amount,
	vat_amount, total_price, paid_amount, status, payment_type, sale_date, user_id, user_pseudo,
	refund_id, refunded_at`

func scanSale(row rowScanner) (domain.Sale, error) {
	var sale domain.Sale
	var items []byte
	var refundedAt *time.Time
	if err := row.Scan(&sale.ID, &sale.InvoiceID, &sale.CustomerID, &sale.CustomerName, &items, &sale.Subtotal,
		&sale.DiscountAmount, &sale.VATAmount, &sale.TotalPrice, &sale.PaidAmount, &sale.Status, &sale.PaymentType,
		&sale.SaleDate, &sale.UserID, &sale.UserPseudo, &sale.RefundID, &refundedAt); err != nil {
		return domain.Sale{}, err
	}
	if err := decodeList(items, &sale.Items); err != nil {
		return domain.Sale{}, err
	}
	if sale.Items == nil {
		sale.Items = []domain.SaleLine{}
	}
	sale.SaleDate = sale.SaleDate.UTC()
	if refundedAt != nil {
		at := refundedAt.UTC()
		sale.RefundedAt = &at
	}
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, filter domain.SaleFilter) ([]domain.Sale, error) {
	where := make([]string, 0, 5)
	args := make([]any, 0, 5)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.CustomerID != "" {
		where = append(where, "customer_id = "+arg(filter.CustomerID))
	}
	if filter.Status != "" {
		where = append(where, "status = "+arg(filter.Status))
	}
	if filter.From != nil {
		where = append(where, "sale_date >= "+arg(*filter.From))
	}
	if filter.To != nil {
		where = append(where, "sale_date < "+arg(*filter.To))
	}
	if filter.OutstandingOnly {
		where = append(where, "status <> "+arg(domain.SaleStatusRefunded)+" AND total_price > paid_amount")
	}

	query := `SELECT ` + saleColumns + ` FROM sales`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY sale_date DESC, invoice_id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

func (s *Store) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	return getSale(ctx, s.pool, id, false)
}

func getSale(ctx context.Context, q querier, id string, lock bool) (domain.Sale, error) {
	sale, err := scanSale(q.QueryRow(ctx, `SELECT `+saleColumns+` FROM sales WHERE id = $1`+forUpdate(lock), id))
	if err != nil {
		return domain.Sale{}, notFound(err, "sale", id)
	}
	return sale, nil
}

// ledgerWhere renders the sale/customer filter shared by the ledger listings.
func ledgerWhere(filter store.LedgerFilter, withSale bool) (string, []any) {
	where := make([]string, 0, 2)
	args := make([]any, 0, 3)
	if withSale && filter.SaleID != "" {
		args = append(args, filter.SaleID)
		where = append(where, fmt.Sprintf("sale_id = $%d", len(args)))
	}
	if filter.CustomerID != "" {
		args = append(args, filter.CustomerID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}
	return clause, args
}

func limitClause(limit int, args []any) (string, []any) {
	if limit <= 0 {
		return "", args
	}
	args = append(args, limit)
	return fmt.Sprintf(" LIMIT $%d", len(args)), args
}

const paymentColumns = `id, sale_id, invoice_id, customer_id, customer_name, amount, payment_type, payment_date, user_id`

func (s *Store) ListPayments(ctx context.Context, filter store.LedgerFilter) ([]domain.Payment, error) {
	where, args := ledgerWhere(filter, true)
	limit, args := limitClause(filter.Limit, args)
	rows, err := s.pool.Query(ctx, `SELECT `+paymentColumns+` FROM payments`+where+` ORDER BY payment_date ASC, id ASC`+limit, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]domain.Payment, 0, 32)
	for rows.Next() {
		var p domain.Payment
		if err := rows.Scan(&p.ID, &p.SaleID, &p.InvoiceID, &p.CustomerID, &p.CustomerName, &p.Amount,
			&p.PaymentType, &p.PaymentDate, &p.UserID); err != nil {
			return nil, err
		}
		p.PaymentDate = p.PaymentDate.UTC()
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

const depositColumns = `id, deposit_number, customer_id, customer_name, amount, consumed_amount, payment_type, deposit_date, user_id`

func scanDeposit(row rowScanner) (domain.Deposit, error) {
	var d domain.Deposit
	if err := row.Scan(&d.ID, &d.DepositNumber, &d.CustomerID, &d.CustomerName, &d.Amount, &d.ConsumedAmount,
		&d.PaymentType, &d.DepositDate, &d.UserID); err != nil {
		return domain.Deposit{}, err
	}
	d.DepositDate = d.DepositDate.UTC()
	return d, nil
}

func collectDeposits(rows pgx.Rows) ([]domain.Deposit, error) {
	defer rows.Close()
	deposits := make([]domain.Deposit, 0, 16)
	for rows.Next() {
		d, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, d)
	}
	return deposits, rows.Err()
}

func (s *Store) ListDeposits(ctx context.Context, filter store.LedgerFilter) ([]domain.Deposit, error) {
	where, args := ledgerWhere(filter, false)
	limit, args := limitClause(filter.Limit, args)
	rows, err := s.pool.Query(ctx, `SELECT `+depositColumns+` FROM deposits`+where+` ORDER BY deposit_date ASC, id ASC`+limit, args...)
	if err != nil {
		return nil, err
	}
	return collectDeposits(rows)
}

const refundColumns = `id, refund_number, sale_id, invoice_id, customer_id, customer_name, amount_returned,
	debt_cancelled, reason, items, skipped_items, refund_date, user_id`

func (s *Store) ListRefunds(ctx context.Context, filter store.LedgerFilter) ([]domain.Refund, error) {
	where, args := ledgerWhere(filter, true)
	limit, args := limitClause(filter.Limit, args)
	rows, err := s.pool.Query(ctx, `SELECT `+refundColumns+` FROM refunds`+where+` ORDER BY refund_date DESC, id DESC`+limit, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	refunds := make([]domain.Refund, 0, 16)
	for rows.Next() {
		var r domain.Refund
		var items, skipped []byte
		if err := rows.Scan(&r.ID, &r.RefundNumber, &r.SaleID, &r.InvoiceID, &r.CustomerID, &r.CustomerName,
			&r.AmountReturned, &r.DebtCancelled, &r.Reason, &items, &skipped, &r.RefundDate, &r.UserID); err != nil {
			return nil, err
		}
		if err := decodeList(items, &r.Items); err != nil {
			return nil, err
		}
		if err := decodeList(skipped, &r.SkippedItems); err != nil {
			return nil, err
		}
		r.RefundDate = r.RefundDate.UTC()
		refunds = append(refunds, r)
	}
	return refunds, rows.Err()
}

func (s *Store) GetCompanyProfile(ctx context.Context) (domain.CompanyProfile, error) {
	return getCompanyProfile(ctx, s.pool, false)
}

func getCompanyProfile(ctx context.Context, q querier, lock bool) (domain.CompanyProfile, error) {
	var p domain.CompanyProfile
	err := q.QueryRow(ctx, `
		SELECT name, address, phone, logo, invoice_prefix, refund_prefix, deposit_prefix,
			invoice_footer_message, last_invoice_number, last_refund_number, last_deposit_number
		FROM company_profile
		WHERE id = $1`+forUpdate(lock), domain.CompanyProfileID).Scan(
		&p.Name, &p.Address, &p.Phone, &p.Logo, &p.InvoicePrefix, &p.RefundPrefix, &p.DepositPrefix,
		&p.InvoiceFooterMessage, &p.LastInvoiceNumber, &p.LastRefundNumber, &p.LastDepositNumber)
	if err != nil {
		return domain.CompanyProfile{}, notFound(err, "company profile", domain.CompanyProfileID)
	}
	return p, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO audit_logs (id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, entry.ID, entry.ActorUsername, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, actor_username, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE created_at >= $1 AND created_at < $2
		ORDER BY created_at DESC, id DESC
		LIMIT $3
	`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.ActorUsername, &entry.ActorRole, &entry.Action, &entry.EntityType,
			&entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return domain.Invalid("username and password are required")
	}
	if user.Role == "" {
		user.Role = domain.RoleSeller
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO app_users (username, pseudo, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,now())
	`, user.Username, user.Pseudo, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: user %s", store.ErrDuplicate, user.Username)
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT username, pseudo, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Pseudo, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return domain.Invalid("username and password are required")
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", store.ErrNotFound, username)
	}
	return nil
}

// classify maps PostgreSQL failures onto the store error taxonomy and leaves
// every other error untouched.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01":
		return fmt.Errorf("%w: %s", store.ErrConflict, pgErr.Message)
	case "23505":
		return fmt.Errorf("%w: %s", store.ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func notFound(err error, kind string, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", store.ErrNotFound, kind, id)
	}
	return err
}

func forUpdate(lock bool) string {
	if lock {
		return " FOR UPDATE"
	}
	return ""
}

func decodeList[T any](raw []byte, out *[]T) error {
	if len(raw) == 0 || string(raw) == "null" {
		*out = nil
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return err
	}
	if len(*out) == 0 {
		*out = nil
	}
	return nil
}

// encodeList always yields a JSON array so jsonb columns never hold null.
func encodeList[T any](items []T) ([]byte, error) {
	if len(items) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(items)
}
