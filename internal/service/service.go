package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/diopweb/Sofalia-v7/internal/domain"
	"github.com/diopweb/Sofalia-v7/internal/reorder"
	"github.com/diopweb/Sofalia-v7/internal/stock"
	"github.com/diopweb/Sofalia-v7/internal/store"
	"github.com/diopweb/Sofalia-v7/internal/xid"
)

const DefaultMaxAttempts = 5

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Service struct {
	repo        store.Repository
	reorder     *reorder.Engine
	logger      *zap.Logger
	maxAttempts int
	retryDelay  time.Duration
	now         func() time.Time
}

func New(repo store.Repository, reorderEngine *reorder.Engine, logger *zap.Logger, maxAttempts int) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if reorderEngine == nil {
		reorderEngine = reorder.NewEngine(nil, 0, stock.PackPolicyEither, logger)
	}
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}

	return &Service{
		repo:        repo,
		reorder:     reorderEngine,
		logger:      logger.Named("service"),
		maxAttempts: maxAttempts,
		retryDelay:  3 * time.Millisecond,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// atomically runs fn as one unit of work, re-running it from scratch with
// fresh reads while the store reports a conflict. fn must not leak state from
// a failed attempt.
func (s *Service) atomically(ctx context.Context, op string, fn func(ctx context.Context, tx store.Tx) error) error {
	var lastErr error
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		err := s.repo.RunAtomic(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return err
		}
		lastErr = err
		s.logger.Debug("write conflict, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == s.maxAttempts {
			break
		}

		delay := s.retryDelay*time.Duration(attempt) + rand.N(s.retryDelay+1)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}

	s.logger.Warn("giving up after repeated conflicts", zap.String("op", op), zap.Int("attempts", s.maxAttempts))
	return fmt.Errorf("%w: %s: %v", domain.ErrTransactionFailed, op, lastErr)
}

func actorOrSystem(ctx context.Context) domain.Actor {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Username == "" {
		return domain.Actor{Username: "system", Pseudo: "system", Role: "system"}
	}
	return actor
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return fmt.Errorf("%w: admin role required", domain.ErrForbidden)
	}
	return nil
}

func (s *Service) logAudit(ctx context.Context, action string, entityType string, entityID string, detail string) {
	actor := actorOrSystem(ctx)

	if err := s.repo.CreateAuditLog(ctx, domain.AuditLog{
		ID:            xid.New("audit"),
		ActorUsername: actor.Username,
		ActorRole:     actor.Role,
		Action:        action,
		EntityType:    entityType,
		EntityID:      entityID,
		Detail:        detail,
		CreatedAt:     s.now(),
	}); err != nil {
		s.logger.Warn("failed to write audit log",
			zap.String("action", action),
			zap.String("entity", entityType+"/"+entityID),
			zap.Error(err),
		)
	}
}

func (s *Service) ListAuditLogs(ctx context.Context, date string, limit int) ([]domain.AuditLog, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = 100
	}

	var from time.Time
	if strings.TrimSpace(date) == "" {
		from = s.now().Add(-24 * time.Hour)
	} else {
		parsed, err := time.Parse("2006-01-02", date)
		if err != nil {
			return nil, domain.Invalid("date must be YYYY-MM-DD")
		}
		from = parsed.UTC()
	}
	to := from.Add(24 * time.Hour)

	return s.repo.ListAuditLogs(ctx, from, to, limit)
}

// Subscribe exposes the store's change stream to read-only observers.
func (s *Service) Subscribe(ctx context.Context, collection string) (<-chan domain.ChangeEvent, error) {
	return s.repo.Subscribe(ctx, collection)
}

func normalizePaymentType(raw string, fallback string) string {
	t := strings.ToLower(strings.TrimSpace(raw))
	if t == "" {
		return fallback
	}
	return t
}

func isSupportedPaymentType(t string) bool {
	switch t {
	case domain.PaymentTypeCash, domain.PaymentTypeWave, domain.PaymentTypeOrangeMoney,
		domain.PaymentTypeCard, domain.PaymentTypeCredit, domain.PaymentTypeDeposit:
		return true
	}
	return false
}

func parseDay(raw string, fallback time.Time) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, domain.Invalid("date must be YYYY-MM-DD")
	}
	return parsed.UTC(), nil
}
