package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/diopweb/Sofalia-v7/internal/domain"
	"github.com/diopweb/Sofalia-v7/internal/store"
)

// scriptedRepo answers RunAtomic with a fixed sequence of errors without
// running the unit. The last error repeats once the script runs out.
type scriptedRepo struct {
	store.Repository
	errs   []error
	calls  int
	onCall func(call int)
}

func (r *scriptedRepo) RunAtomic(_ context.Context, _ func(ctx context.Context, tx store.Tx) error) error {
	r.calls++
	if r.onCall != nil {
		r.onCall(r.calls)
	}
	if len(r.errs) == 0 {
		return nil
	}
	i := min(r.calls, len(r.errs)) - 1
	return r.errs[i]
}

func newScriptedService(repo *scriptedRepo, maxAttempts int) *Service {
	svc := New(repo, nil, nil, maxAttempts)
	svc.retryDelay = time.Millisecond
	return svc
}

func noop(context.Context, store.Tx) error { return nil }

func TestAtomicallyRetriesConflicts(t *testing.T) {
	conflict := fmt.Errorf("%w: sales/s-1", store.ErrConflict)

	tests := []struct {
		name      string
		errs      []error
		wantErr   error
		wantCalls int
	}{
		{"commits first time", nil, nil, 1},
		{"recovers after conflicts", []error{conflict, conflict, nil}, nil, 3},
		{"gives up after max attempts", []error{conflict}, domain.ErrTransactionFailed, 3},
		{"validation is not retried", []error{domain.Invalid("bad")}, domain.ErrValidation, 1},
		{"not found is not retried", []error{store.ErrNotFound}, domain.ErrNotFound, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &scriptedRepo{errs: tt.errs}
			svc := newScriptedService(repo, 3)

			err := svc.atomically(context.Background(), "test_op", noop)
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, tt.wantCalls, repo.calls)
		})
	}
}

func TestAtomicallyGiveUpKeepsConflictDetail(t *testing.T) {
	repo := &scriptedRepo{errs: []error{fmt.Errorf("%w: products/p1", store.ErrConflict)}}
	svc := newScriptedService(repo, 2)

	err := svc.atomically(context.Background(), "create_sale", noop)
	require.ErrorIs(t, err, domain.ErrTransactionFailed)
	assert.Contains(t, err.Error(), "create_sale")
	assert.Contains(t, err.Error(), "products/p1")
	assert.Equal(t, 2, repo.calls)
}

func TestAtomicallyStopsWhenContextIsCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo := &scriptedRepo{
		errs:   []error{store.ErrConflict},
		onCall: func(int) { cancel() },
	}
	svc := newScriptedService(repo, 5)
	svc.retryDelay = time.Hour

	start := time.Now()
	err := svc.atomically(ctx, "apply_payment", noop)
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, domain.ErrTransactionFailed)
	assert.Equal(t, 1, repo.calls)
	assert.Less(t, time.Since(start), time.Minute)
}

func TestAtomicallyBacksOffBetweenAttempts(t *testing.T) {
	var stamps []time.Time
	repo := &scriptedRepo{
		errs:   []error{store.ErrConflict, store.ErrConflict, nil},
		onCall: func(int) { stamps = append(stamps, time.Now()) },
	}
	svc := newScriptedService(repo, 3)
	svc.retryDelay = 5 * time.Millisecond

	require.NoError(t, svc.atomically(context.Background(), "apply_deposit", noop))
	require.Len(t, stamps, 3)
	assert.GreaterOrEqual(t, stamps[1].Sub(stamps[0]), 5*time.Millisecond)
	assert.GreaterOrEqual(t, stamps[2].Sub(stamps[1]), 10*time.Millisecond)
}
