// Package invoicing issues document numbers from the counters held on the
// company profile. Counters are always read and written through the caller's
// unit of work, never cached.
package invoicing

import (
	"context"
	"errors"
	"fmt"

	"github.com/diopweb/Sofalia-v7/internal/domain"
)

type Kind string

const (
	KindInvoice Kind = "invoice"
	KindRefund  Kind = "refund"
	KindDeposit Kind = "deposit"
)

const (
	DefaultInvoicePrefix = "FAC-"
	DefaultRefundPrefix  = "REF-"
	DefaultDepositPrefix = "DEP-"

	sequenceWidth = 5
)

// ProfileStore is the slice of a unit of work the authority needs.
type ProfileStore interface {
	GetCompanyProfile(ctx context.Context) (domain.CompanyProfile, error)
	PutCompanyProfile(ctx context.Context, profile domain.CompanyProfile) error
}

type Number struct {
	Formatted string
	Sequence  int64
}

// Next increments the counter for kind and returns the formatted number. Each
// kind owns its own counter; invoices keep using lastInvoiceNumber.
func Next(ctx context.Context, tx ProfileStore, kind Kind) (Number, error) {
	profile, err := tx.GetCompanyProfile(ctx)
	if errors.Is(err, domain.ErrNotFound) {
		profile = DefaultProfile()
	} else if err != nil {
		return Number{}, fmt.Errorf("read company profile: %w", err)
	}
	profile = WithDefaults(profile)

	var (
		seq    int64
		prefix string
	)
	switch kind {
	case KindInvoice:
		profile.LastInvoiceNumber++
		seq, prefix = profile.LastInvoiceNumber, profile.InvoicePrefix
	case KindRefund:
		profile.LastRefundNumber++
		seq, prefix = profile.LastRefundNumber, profile.RefundPrefix
	case KindDeposit:
		profile.LastDepositNumber++
		seq, prefix = profile.LastDepositNumber, profile.DepositPrefix
	default:
		return Number{}, domain.Invalid(fmt.Sprintf("unknown document kind %q", kind))
	}

	if err := tx.PutCompanyProfile(ctx, profile); err != nil {
		return Number{}, fmt.Errorf("write company profile: %w", err)
	}
	return Number{Formatted: Format(prefix, seq), Sequence: seq}, nil
}

// Format renders prefix followed by the zero-padded sequence, e.g. FAC-00001.
// Sequences wider than the padding are printed in full.
func Format(prefix string, seq int64) string {
	return fmt.Sprintf("%s%0*d", prefix, sequenceWidth, seq)
}

func DefaultProfile() domain.CompanyProfile {
	return domain.CompanyProfile{
		InvoicePrefix: DefaultInvoicePrefix,
		RefundPrefix:  DefaultRefundPrefix,
		DepositPrefix: DefaultDepositPrefix,
	}
}

// WithDefaults fills blank prefixes.
func WithDefaults(profile domain.CompanyProfile) domain.CompanyProfile {
	if profile.InvoicePrefix == "" {
		profile.InvoicePrefix = DefaultInvoicePrefix
	}
	if profile.RefundPrefix == "" {
		profile.RefundPrefix = DefaultRefundPrefix
	}
	if profile.DepositPrefix == "" {
		profile.DepositPrefix = DefaultDepositPrefix
	}
	return profile
}
