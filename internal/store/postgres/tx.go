package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/diopweb/Sofalia-v7/internal/domain"
	"github.com/diopweb/Sofalia-v7/internal/store"
)

const changesChannel = "pos_changes"

// unitOfWork reads with FOR UPDATE so two units touching the same row
// serialize on the row lock instead of both reaching commit.
type unitOfWork struct {
	tx     pgx.Tx
	events []domain.ChangeEvent
}

var _ store.Tx = (*unitOfWork)(nil)

func (u *unitOfWork) record(collection string, id string, op string) {
	u.events = append(u.events, domain.ChangeEvent{Collection: collection, ID: id, Op: op})
}

// notify queues one notification per change. PostgreSQL delivers them only
// if the transaction commits.
func (u *unitOfWork) notify(ctx context.Context) error {
	now := time.Now().UTC()
	for _, ev := range u.events {
		ev.At = now
		payload, err := json.Marshal(ev)
		if err != nil {
			return err
		}
		if _, err := u.tx.Exec(ctx, `SELECT pg_notify($1, $2)`, changesChannel, string(payload)); err != nil {
			return err
		}
	}
	return nil
}

func (u *unitOfWork) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	return getProduct(ctx, u.tx, id, true)
}

func (u *unitOfWork) PutProduct(ctx context.Context, p domain.Product) error {
	variants, err := encodeList(p.Variants)
	if err != nil {
		return err
	}
	packItems, err := encodeList(p.PackItems)
	if err != nil {
		return err
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	if p.UpdatedAt.IsZero() {
		p.UpdatedAt = p.CreatedAt
	}

	_, err = u.tx.Exec(ctx, `
		INSERT INTO products (id, name, type, category_id, image, price, base_price, quantity,
			reorder_threshold, variants, pack_items, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			category_id = EXCLUDED.category_id,
			image = EXCLUDED.image,
			price = EXCLUDED.price,
			base_price = EXCLUDED.base_price,
			quantity = EXCLUDED.quantity,
			reorder_threshold = EXCLUDED.reorder_threshold,
			variants = EXCLUDED.variants,
			pack_items = EXCLUDED.pack_items,
			updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.Type, p.CategoryID, p.Image, p.Price, p.BasePrice, p.Quantity,
		p.ReorderThreshold, variants, packItems, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return err
	}
	u.record(domain.CollectionProducts, p.ID, domain.ChangeOpUpsert)
	return nil
}

func (u *unitOfWork) DeleteProduct(ctx context.Context, id string) error {
	tag, err := u.tx.Exec(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: product %s", store.ErrNotFound, id)
	}
	u.record(domain.CollectionProducts, id, domain.ChangeOpDelete)
	return nil
}

func (u *unitOfWork) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	return getCustomer(ctx, u.tx, id, true)
}

func (u *unitOfWork) PutCustomer(ctx context.Context, c domain.Customer) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := u.tx.Exec(ctx, `
		INSERT INTO customers (id, name, phone, email, address, balance, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			phone = EXCLUDED.phone,
			email = EXCLUDED.email,
			address = EXCLUDED.address,
			balance = EXCLUDED.balance
	`, c.ID, c.Name, c.Phone, c.Email, c.Address, c.Balance, c.CreatedAt)
	if err != nil {
		return err
	}
	u.record(domain.CollectionCustomers, c.ID, domain.ChangeOpUpsert)
	return nil
}

func (u *unitOfWork) DeleteCustomer(ctx context.Context, id string) error {
	tag, err := u.tx.Exec(ctx, `DELETE FROM customers WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: customer %s", store.ErrNotFound, id)
	}
	u.record(domain.CollectionCustomers, id, domain.ChangeOpDelete)
	return nil
}

func (u *unitOfWork) GetSale(ctx context.Context, id string) (domain.Sale, error) {
	return getSale(ctx, u.tx, id, true)
}

func (u *unitOfWork) PutSale(ctx context.Context, sale domain.Sale) error {
	items, err := encodeList(sale.Items)
	if err != nil {
		return err
	}
	_, err = u.tx.Exec(ctx, `
		INSERT INTO sales (id, invoice_id, customer_id, customer_name, items, subtotal, discount_amount,
			vat_amount, total_price, paid_amount, status, payment_type, sale_date, user_id, user_pseudo,
			refund_id, refunded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id) DO UPDATE SET
			customer_name = EXCLUDED.customer_name,
			items = EXCLUDED.items,
			paid_amount = EXCLUDED.paid_amount,
			status = EXCLUDED.status,
			refund_id = EXCLUDED.refund_id,
			refunded_at = EXCLUDED.refunded_at
	`, sale.ID, sale.InvoiceID, sale.CustomerID, sale.CustomerName, items, sale.Subtotal, sale.DiscountAmount,
		sale.VATAmount, sale.TotalPrice, sale.PaidAmount, sale.Status, sale.PaymentType, sale.SaleDate, sale.UserID,
		sale.UserPseudo, sale.RefundID, sale.RefundedAt)
	if err != nil {
		return err
	}
	u.record(domain.CollectionSales, sale.ID, domain.ChangeOpUpsert)
	return nil
}

func (u *unitOfWork) ListCustomerSales(ctx context.Context, customerID string) ([]domain.Sale, error) {
	rows, err := u.tx.Query(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE customer_id = $1
		ORDER BY sale_date ASC, invoice_id ASC
		FOR UPDATE
	`, customerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 16)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, sale)
	}
	return sales, rows.Err()
}

// ListPacks relies on SERIALIZABLE predicate locks: a pack inserted or
// edited concurrently aborts one of the two units with 40001.
func (u *unitOfWork) ListPacks(ctx context.Context) ([]domain.Product, error) {
	rows, err := u.tx.Query(ctx, `
		SELECT `+productColumns+`
		FROM products
		WHERE type = $1
		ORDER BY id ASC
		FOR UPDATE
	`, domain.ProductTypePack)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	packs := make([]domain.Product, 0, 16)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		packs = append(packs, p)
	}
	return packs, rows.Err()
}

func (u *unitOfWork) GetCompanyProfile(ctx context.Context) (domain.CompanyProfile, error) {
	return getCompanyProfile(ctx, u.tx, true)
}

func (u *unitOfWork) PutCompanyProfile(ctx context.Context, p domain.CompanyProfile) error {
	_, err := u.tx.Exec(ctx, `
		INSERT INTO company_profile (id, name, address, phone, logo, invoice_prefix, refund_prefix, deposit_prefix,
			invoice_footer_message, last_invoice_number, last_refund_number, last_deposit_number)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			address = EXCLUDED.address,
			phone = EXCLUDED.phone,
			logo = EXCLUDED.logo,
			invoice_prefix = EXCLUDED.invoice_prefix,
			refund_prefix = EXCLUDED.refund_prefix,
			deposit_prefix = EXCLUDED.deposit_prefix,
			invoice_footer_message = EXCLUDED.invoice_footer_message,
			last_invoice_number = EXCLUDED.last_invoice_number,
			last_refund_number = EXCLUDED.last_refund_number,
			last_deposit_number = EXCLUDED.last_deposit_number
	`, domain.CompanyProfileID, p.Name, p.Address, p.Phone, p.Logo, p.InvoicePrefix, p.RefundPrefix, p.DepositPrefix,
		p.InvoiceFooterMessage, p.LastInvoiceNumber, p.LastRefundNumber, p.LastDepositNumber)
	if err != nil {
		return err
	}
	u.record(domain.CollectionCompanyProfile, domain.CompanyProfileID, domain.ChangeOpUpsert)
	return nil
}

func (u *unitOfWork) InsertPayment(ctx context.Context, p domain.Payment) error {
	_, err := u.tx.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, p.ID, p.SaleID, p.InvoiceID, p.CustomerID, p.CustomerName, p.Amount, p.PaymentType, p.PaymentDate, p.UserID)
	if err != nil {
		return classify(err)
	}
	u.record(domain.CollectionPayments, p.ID, domain.ChangeOpUpsert)
	return nil
}

func (u *unitOfWork) InsertDeposit(ctx context.Context, d domain.Deposit) error {
	_, err := u.tx.Exec(ctx, `
		INSERT INTO deposits (`+depositColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, d.ID, d.DepositNumber, d.CustomerID, d.CustomerName, d.Amount, d.ConsumedAmount, d.PaymentType, d.DepositDate, d.UserID)
	if err != nil {
		return classify(err)
	}
	u.record(domain.CollectionDeposits, d.ID, domain.ChangeOpUpsert)
	return nil
}

func (u *unitOfWork) PutDeposit(ctx context.Context, d domain.Deposit) error {
	tag, err := u.tx.Exec(ctx, `
		UPDATE deposits SET consumed_amount = $2
		WHERE id = $1
	`, d.ID, d.ConsumedAmount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: deposit %s", store.ErrNotFound, d.ID)
	}
	u.record(domain.CollectionDeposits, d.ID, domain.ChangeOpUpsert)
	return nil
}

func (u *unitOfWork) ListCustomerDeposits(ctx context.Context, customerID string) ([]domain.Deposit, error) {
	rows, err := u.tx.Query(ctx, `
		SELECT `+depositColumns+`
		FROM deposits
		WHERE customer_id = $1
		ORDER BY deposit_date ASC, id ASC
		FOR UPDATE
	`, customerID)
	if err != nil {
		return nil, err
	}
	return collectDeposits(rows)
}

func (u *unitOfWork) InsertRefund(ctx context.Context, r domain.Refund) error {
	items, err := encodeList(r.Items)
	if err != nil {
		return err
	}
	skipped, err := encodeList(r.SkippedItems)
	if err != nil {
		return err
	}
	_, err = u.tx.Exec(ctx, `
		INSERT INTO refunds (`+refundColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`, r.ID, r.RefundNumber, r.SaleID, r.InvoiceID, r.CustomerID, r.CustomerName, r.AmountReturned,
		r.DebtCancelled, r.Reason, items, skipped, r.RefundDate, r.UserID)
	if err != nil {
		return classify(err)
	}
	u.record(domain.CollectionRefunds, r.ID, domain.ChangeOpUpsert)
	return nil
}
