// Package jobs runs background maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/diopweb/Sofalia-v7/internal/domain"
)

const reconcileTimeout = 2 * time.Minute

type Reconciler interface {
	ReconcileBalances(ctx context.Context) (domain.ReconcileReport, error)
}

// Scheduler periodically audits customer balances against the sales and
// deposit ledger. It only reports drift; balances are never rewritten.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	logger     *zap.Logger
}

// NewScheduler returns a scheduler for the given cron schedule. An empty schedule
// yields a scheduler whose Start and Stop do nothing.
func NewScheduler(schedule string, reconciler Reconciler, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{reconciler: reconciler, logger: logger.Named("jobs")}

	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		return s, nil
	}

	cronLogger := cronLog{sugar: s.logger.Sugar()}
	c := cron.New(
		cron.WithLogger(cronLogger),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)
	if _, err := c.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()
		_, _ = s.RunOnce(ctx)
	}); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", schedule, err)
	}
	s.cron = c
	return s, nil
}

func (s *Scheduler) Start() {
	if s.cron == nil {
		return
	}
	s.cron.Start()
	s.logger.Info("balance reconciliation scheduled", zap.Int("entries", len(s.cron.Entries())))
}

// Stop waits for a running job to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// RunOnce performs a single reconciliation pass and logs every drifted
// customer.
func (s *Scheduler) RunOnce(ctx context.Context) (domain.ReconcileReport, error) {
	started := time.Now()
	report, err := s.reconciler.ReconcileBalances(ctx)
	if err != nil {
		s.logger.Error("balance reconciliation failed", zap.Error(err))
		return domain.ReconcileReport{}, err
	}

	for _, d := range report.Discrepancies {
		s.logger.Warn("customer balance drift",
			zap.String("customer_id", d.CustomerID),
			zap.String("customer_name", d.CustomerName),
			zap.Int64("stored", d.StoredBalance),
			zap.Int64("expected", d.ExpectedBalance),
			zap.Int64("drift", d.Drift),
		)
	}
	s.logger.Info("balance reconciliation finished",
		zap.Int("checked", report.CheckedCustomers),
		zap.Int("drifted", len(report.Discrepancies)),
		zap.Duration("took", time.Since(started)),
	)
	return report, nil
}

// cronLog adapts zap to cron.Logger.
type cronLog struct {
	sugar *zap.SugaredLogger
}

func (l cronLog) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

func (l cronLog) Error(err error, msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, append(keysAndValues, "error", err)...)
}
