package invoicing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diopweb/Sofalia-v7/internal/domain"
)

type profileDoc struct {
	profile *domain.CompanyProfile
	readErr error
}

func (d *profileDoc) GetCompanyProfile(context.Context) (domain.CompanyProfile, error) {
	if d.readErr != nil {
		return domain.CompanyProfile{}, d.readErr
	}
	if d.profile == nil {
		return domain.CompanyProfile{}, domain.ErrNotFound
	}
	return *d.profile, nil
}

func (d *profileDoc) PutCompanyProfile(_ context.Context, profile domain.CompanyProfile) error {
	d.profile = &profile
	return nil
}

func TestNextCreatesProfileWithDefaults(t *testing.T) {
	doc := &profileDoc{}
	n, err := Next(context.Background(), doc, KindInvoice)
	require.NoError(t, err)
	assert.Equal(t, Number{Formatted: "FAC-00001", Sequence: 1}, n)
	require.NotNil(t, doc.profile)
	assert.Equal(t, int64(1), doc.profile.LastInvoiceNumber)
	assert.Equal(t, "REF-", doc.profile.RefundPrefix)
}

func TestNextKeepsIndependentCounters(t *testing.T) {
	doc := &profileDoc{profile: &domain.CompanyProfile{
		InvoicePrefix:     "TST-",
		RefundPrefix:      "RB-",
		LastInvoiceNumber: 3,
	}}
	ctx := context.Background()

	inv, err := Next(ctx, doc, KindInvoice)
	require.NoError(t, err)
	ref, err := Next(ctx, doc, KindRefund)
	require.NoError(t, err)
	dep, err := Next(ctx, doc, KindDeposit)
	require.NoError(t, err)
	inv2, err := Next(ctx, doc, KindInvoice)
	require.NoError(t, err)

	assert.Equal(t, "TST-00004", inv.Formatted)
	assert.Equal(t, "RB-00001", ref.Formatted)
	assert.Equal(t, "DEP-00001", dep.Formatted)
	assert.Equal(t, "TST-00005", inv2.Formatted)
}

func TestNextPropagatesReadFailures(t *testing.T) {
	boom := errors.New("boom")
	_, err := Next(context.Background(), &profileDoc{readErr: boom}, KindInvoice)
	assert.ErrorIs(t, err, boom)

	_, err = Next(context.Background(), &profileDoc{}, Kind("quote"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "FAC-00042", Format("FAC-", 42))
	assert.Equal(t, "FAC-123456", Format("FAC-", 123456))
	assert.Equal(t, "00007", Format("", 7))
}
