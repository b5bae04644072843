package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/diopweb/Sofalia-v7/internal/domain"
	"github.com/diopweb/Sofalia-v7/internal/invoicing"
	"github.com/diopweb/Sofalia-v7/internal/ledger"
	"github.com/diopweb/Sofalia-v7/internal/store"
	"github.com/diopweb/Sofalia-v7/internal/xid"
)

// ApplyPayment settles part or all of a sale's outstanding amount. A payment
// of type "deposit" draws on the customer's unconsumed deposits, oldest
// first, and leaves the balance unchanged since debt and credit shrink
// together.
func (s *Service) ApplyPayment(ctx context.Context, saleID string, req domain.PaymentRequest) (domain.Payment, error) {
	saleID = strings.TrimSpace(saleID)
	if saleID == "" {
		return domain.Payment{}, domain.Invalid("sale id is required")
	}
	if req.Amount <= 0 {
		return domain.Payment{}, domain.Invalid("amount must be > 0")
	}
	req.PaymentType = normalizePaymentType(req.PaymentType, domain.PaymentTypeCash)
	if !isSupportedPaymentType(req.PaymentType) || req.PaymentType == domain.PaymentTypeCredit {
		return domain.Payment{}, domain.Invalid(fmt.Sprintf("unsupported paymentType %q", req.PaymentType))
	}

	actor := actorOrSystem(ctx)
	var payment domain.Payment

	err := s.atomically(ctx, "apply_payment", func(ctx context.Context, tx store.Tx) error {
		sale, err := tx.GetSale(ctx, saleID)
		if err != nil {
			return err
		}
		if sale.Status == domain.SaleStatusRefunded {
			return domain.Invalid(fmt.Sprintf("sale %s was refunded", sale.InvoiceID))
		}
		outstanding := ledger.Outstanding(sale)
		if req.Amount > outstanding {
			return fmt.Errorf("%w: amount %d, outstanding %d", domain.ErrOverPayment, req.Amount, outstanding)
		}

		customer, err := tx.GetCustomer(ctx, sale.CustomerID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: customer %s not found", domain.ErrInvalidCustomer, sale.CustomerID)
		}
		if err != nil {
			return err
		}

		if req.PaymentType == domain.PaymentTypeDeposit {
			if err := consumeDeposits(ctx, tx, customer.ID, req.Amount); err != nil {
				return err
			}
		} else {
			customer.Balance -= req.Amount
		}
		// Written even when unchanged so concurrent payments of one customer
		// conflict on the same document.
		if err := tx.PutCustomer(ctx, customer); err != nil {
			return err
		}

		sale.PaidAmount += req.Amount
		sale.Status = ledger.SaleStatus(sale.TotalPrice, sale.PaidAmount)
		if err := tx.PutSale(ctx, sale); err != nil {
			return err
		}

		payment = domain.Payment{
			ID:           xid.New("pay"),
			SaleID:       sale.ID,
			InvoiceID:    sale.InvoiceID,
			CustomerID:   customer.ID,
			CustomerName: sale.CustomerName,
			Amount:       req.Amount,
			PaymentType:  req.PaymentType,
			PaymentDate:  s.now(),
			UserID:       actor.Username,
		}
		return tx.InsertPayment(ctx, payment)
	})
	if err != nil {
		return domain.Payment{}, err
	}

	s.logger.Info("payment applied",
		zap.String("sale_id", payment.SaleID),
		zap.Int64("amount", payment.Amount),
		zap.String("payment_type", payment.PaymentType),
	)
	s.logAudit(ctx, "payment_apply", "sale", payment.SaleID,
		fmt.Sprintf("invoice=%s,amount=%d,type=%s", payment.InvoiceID, payment.Amount, payment.PaymentType))
	return payment, nil
}

func consumeDeposits(ctx context.Context, tx store.Tx, customerID string, amount int64) error {
	deposits, err := tx.ListCustomerDeposits(ctx, customerID)
	if err != nil {
		return err
	}

	var available int64
	for _, d := range deposits {
		available += max(d.Remaining(), 0)
	}
	if available < amount {
		return fmt.Errorf("%w: %w: need %d, available %d", domain.ErrValidation, domain.ErrInsufficientCredit, amount, available)
	}

	remaining := amount
	for _, d := range deposits {
		if remaining == 0 {
			break
		}
		take := min(max(d.Remaining(), 0), remaining)
		if take == 0 {
			continue
		}
		d.ConsumedAmount += take
		remaining -= take
		if err := tx.PutDeposit(ctx, d); err != nil {
			return err
		}
	}
	return nil
}

// ApplyDeposit records credit held for a customer. The deposit is treated as
// pre-payment of future debt, so the balance drops immediately and may go
// negative.
func (s *Service) ApplyDeposit(ctx context.Context, customerID string, req domain.DepositRequest) (domain.Deposit, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.Deposit{}, fmt.Errorf("%w: customer id is required", domain.ErrInvalidCustomer)
	}
	if req.Amount <= 0 {
		return domain.Deposit{}, domain.Invalid("amount must be > 0")
	}
	req.PaymentType = normalizePaymentType(req.PaymentType, domain.PaymentTypeCash)
	switch req.PaymentType {
	case domain.PaymentTypeCredit, domain.PaymentTypeDeposit:
		return domain.Deposit{}, domain.Invalid(fmt.Sprintf("unsupported paymentType %q for a deposit", req.PaymentType))
	}
	if !isSupportedPaymentType(req.PaymentType) {
		return domain.Deposit{}, domain.Invalid(fmt.Sprintf("unsupported paymentType %q", req.PaymentType))
	}

	actor := actorOrSystem(ctx)
	var deposit domain.Deposit

	err := s.atomically(ctx, "apply_deposit", func(ctx context.Context, tx store.Tx) error {
		customer, err := tx.GetCustomer(ctx, customerID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: customer %s not found", domain.ErrInvalidCustomer, customerID)
		}
		if err != nil {
			return err
		}

		number, err := invoicing.Next(ctx, tx, invoicing.KindDeposit)
		if err != nil {
			return err
		}

		deposit = domain.Deposit{
			ID:            xid.New("dep"),
			DepositNumber: number.Formatted,
			CustomerID:    customer.ID,
			CustomerName:  customer.Name,
			Amount:        req.Amount,
			PaymentType:   req.PaymentType,
			DepositDate:   s.now(),
			UserID:        actor.Username,
		}
		if err := tx.InsertDeposit(ctx, deposit); err != nil {
			return err
		}

		customer.Balance -= req.Amount
		return tx.PutCustomer(ctx, customer)
	})
	if err != nil {
		return domain.Deposit{}, err
	}

	s.logAudit(ctx, "deposit_apply", "customer", deposit.CustomerID,
		fmt.Sprintf("deposit=%s,amount=%d", deposit.DepositNumber, deposit.Amount))
	return deposit, nil
}

func (s *Service) ListPayments(ctx context.Context, saleID string, customerID string, limit int) ([]domain.Payment, error) {
	return s.repo.ListPayments(ctx, store.LedgerFilter{SaleID: saleID, CustomerID: customerID, Limit: limit})
}

func (s *Service) ListDeposits(ctx context.Context, customerID string, limit int) ([]domain.Deposit, error) {
	return s.repo.ListDeposits(ctx, store.LedgerFilter{CustomerID: customerID, Limit: limit})
}
