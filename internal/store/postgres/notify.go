package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"

	"github.com/diopweb/Sofalia-v7/internal/domain"
)

var collections = []string{
	domain.CollectionProducts,
	domain.CollectionCustomers,
	domain.CollectionCategories,
	domain.CollectionSales,
	domain.CollectionPayments,
	domain.CollectionDeposits,
	domain.CollectionRefunds,
	domain.CollectionCompanyProfile,
}

const listenRetryDelay = 2 * time.Second

type subscriber struct {
	collection string
	ch         chan domain.ChangeEvent
}

func (s *Store) Subscribe(ctx context.Context, collection string) (<-chan domain.ChangeEvent, error) {
	if !slices.Contains(collections, collection) {
		return nil, domain.Invalid(fmt.Sprintf("unknown collection %q", collection))
	}

	ch := make(chan domain.ChangeEvent, 64)
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = &subscriber{collection: collection, ch: ch}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subscribers, id)
		close(ch)
		s.subMu.Unlock()
	}()
	return ch, nil
}

// listen holds one pooled connection on LISTEN and fans notifications out to
// every subscriber, so open event streams do not each pin a connection.
func (s *Store) listen(ctx context.Context) {
	defer close(s.done)
	for {
		err := s.listenOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("change listener stopped, reconnecting", zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(listenRetryDelay):
		}
	}
}

func (s *Store) listenOnce(ctx context.Context) error {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	// The connection keeps its LISTEN registration, so it never goes back
	// to the pool.
	pgConn := conn.Hijack()
	defer func() { _ = pgConn.Close(context.Background()) }()

	if _, err := pgConn.Exec(ctx, "LISTEN "+changesChannel); err != nil {
		return err
	}
	s.subMu.Lock()
	s.listening = true
	s.subMu.Unlock()
	defer func() {
		s.subMu.Lock()
		s.listening = false
		s.subMu.Unlock()
	}()

	for {
		notification, err := pgConn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var ev domain.ChangeEvent
		if err := json.Unmarshal([]byte(notification.Payload), &ev); err != nil {
			s.logger.Warn("dropping malformed change notification", zap.String("payload", notification.Payload), zap.Error(err))
			continue
		}
		s.publish(ev)
	}
}

// publish never blocks the listener: a subscriber that stops draining loses
// events.
func (s *Store) publish(ev domain.ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, sub := range s.subscribers {
		if sub.collection != ev.Collection {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// announce sends a notification for a write made outside a unit of work.
func (s *Store) announce(ctx context.Context, ev domain.ChangeEvent) {
	ev.At = time.Now().UTC()
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, changesChannel, string(payload)); err != nil {
		s.logger.Warn("change notification failed", zap.String("collection", ev.Collection), zap.String("id", ev.ID), zap.Error(err))
	}
}

func (s *Store) isListening() bool {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	return s.listening
}
