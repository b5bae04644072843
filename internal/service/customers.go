package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/diopweb/Sofalia-v7/internal/domain"
	"github.com/diopweb/Sofalia-v7/internal/invoicing"
	"github.com/diopweb/Sofalia-v7/internal/ledger"
	"github.com/diopweb/Sofalia-v7/internal/store"
	"github.com/diopweb/Sofalia-v7/internal/xid"
)

func (s *Service) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return s.repo.ListCustomers(ctx)
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	return s.repo.GetCustomer(ctx, id)
}

// CreateCustomer always starts at a zero balance; only sales, payments,
// deposits and refunds move it.
func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerRequest) (domain.Customer, error) {
	customer := domain.Customer{
		ID:        xid.New("cust"),
		Name:      strings.TrimSpace(req.Name),
		Phone:     strings.TrimSpace(req.Phone),
		Email:     strings.TrimSpace(req.Email),
		Address:   strings.TrimSpace(req.Address),
		CreatedAt: s.now(),
	}
	if customer.Name == "" {
		return domain.Customer{}, domain.Invalid("name is required")
	}

	if err := s.atomically(ctx, "create_customer", func(ctx context.Context, tx store.Tx) error {
		return tx.PutCustomer(ctx, customer)
	}); err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_create", "customer", customer.ID, customer.Name)
	return customer, nil
}

// UpdateCustomer edits contact details. Past sales keep the name they were
// recorded with.
func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, domain.Invalid("name is required")
	}

	var saved domain.Customer
	err := s.atomically(ctx, "update_customer", func(ctx context.Context, tx store.Tx) error {
		customer, err := tx.GetCustomer(ctx, id)
		if err != nil {
			return err
		}
		customer.Name = name
		customer.Phone = strings.TrimSpace(req.Phone)
		customer.Email = strings.TrimSpace(req.Email)
		customer.Address = strings.TrimSpace(req.Address)
		saved = customer
		return tx.PutCustomer(ctx, customer)
	})
	if err != nil {
		return domain.Customer{}, err
	}
	s.logAudit(ctx, "customer_update", "customer", saved.ID, saved.Name)
	return saved, nil
}

// DeleteCustomer refuses while the customer owes money on any sale or holds
// unconsumed deposit credit, even when the two net to a zero balance.
func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	err := s.atomically(ctx, "delete_customer", func(ctx context.Context, tx store.Tx) error {
		customer, err := tx.GetCustomer(ctx, id)
		if err != nil {
			return err
		}
		if customer.Balance != 0 {
			return domain.Invalid(fmt.Sprintf("customer %s has a non-zero balance of %d", customer.Name, customer.Balance))
		}
		// Debt and credit can cancel out in the balance.
		deposits, err := tx.ListCustomerDeposits(ctx, id)
		if err != nil {
			return err
		}
		if credit := ledger.AvailableCredit(deposits); credit > 0 {
			return domain.Invalid(fmt.Sprintf("customer %s still holds %d of deposit credit", customer.Name, credit))
		}
		sales, err := tx.ListCustomerSales(ctx, id)
		if err != nil {
			return err
		}
		if debt := ledger.OutstandingDebt(sales); debt > 0 {
			return domain.Invalid(fmt.Sprintf("customer %s still owes %d", customer.Name, debt))
		}
		return tx.DeleteCustomer(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logAudit(ctx, "customer_delete", "customer", id, "")
	return nil
}

// GetCompanyProfile returns the stored profile, or defaults before the first
// document is issued.
func (s *Service) GetCompanyProfile(ctx context.Context) (domain.CompanyProfile, error) {
	profile, err := s.repo.GetCompanyProfile(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return invoicing.DefaultProfile(), nil
	}
	if err != nil {
		return domain.CompanyProfile{}, err
	}
	return invoicing.WithDefaults(profile), nil
}

// UpdateCompanyProfile edits the settings fields. Document counters are owned
// by the numbering authority and are carried over untouched.
func (s *Service) UpdateCompanyProfile(ctx context.Context, req domain.CompanyProfileUpdateRequest) (domain.CompanyProfile, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.CompanyProfile{}, err
	}
	if strings.TrimSpace(req.Name) == "" {
		return domain.CompanyProfile{}, domain.Invalid("name is required")
	}
	for _, prefix := range []string{req.InvoicePrefix, req.RefundPrefix, req.DepositPrefix} {
		if len(prefix) > 16 {
			return domain.CompanyProfile{}, domain.Invalid("document prefixes are limited to 16 characters")
		}
	}

	var saved domain.CompanyProfile
	err := s.atomically(ctx, "update_company_profile", func(ctx context.Context, tx store.Tx) error {
		current, err := tx.GetCompanyProfile(ctx)
		if errors.Is(err, store.ErrNotFound) {
			current = invoicing.DefaultProfile()
		} else if err != nil {
			return err
		}

		current.Name = strings.TrimSpace(req.Name)
		current.Address = strings.TrimSpace(req.Address)
		current.Phone = strings.TrimSpace(req.Phone)
		current.Logo = req.Logo
		current.InvoicePrefix = strings.TrimSpace(req.InvoicePrefix)
		current.RefundPrefix = strings.TrimSpace(req.RefundPrefix)
		current.DepositPrefix = strings.TrimSpace(req.DepositPrefix)
		current.InvoiceFooterMessage = req.InvoiceFooterMessage
		saved = invoicing.WithDefaults(current)
		return tx.PutCompanyProfile(ctx, saved)
	})
	if err != nil {
		return domain.CompanyProfile{}, err
	}
	s.logAudit(ctx, "company_profile_update", "company_profile", domain.CompanyProfileID, saved.Name)
	return saved, nil
}
