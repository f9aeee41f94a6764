package orders

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"water-order-bot/internal/model"
)

// MemoryStore keeps orders in process memory. Orders are lost on restart.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]model.PendingOrder
	opts   options
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(log logrus.FieldLogger, opts ...Option) *MemoryStore {
	log.Warn("Order store is in-memory; pending orders will not survive a restart")
	return &MemoryStore{
		orders: make(map[string]model.PendingOrder),
		opts:   buildOptions(opts),
	}
}

func (s *MemoryStore) Create(_ context.Context, order model.PendingOrder) (string, error) {
	order = prepare(order, s.opts.now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.TrackingID] = order
	return order.TrackingID, nil
}

func (s *MemoryStore) ListPending(_ context.Context) ([]model.PendingOrder, error) {
	s.mu.RLock()
	list := make([]model.PendingOrder, 0, len(s.orders))
	for _, o := range s.orders {
		list = append(list, copyOrder(o))
	}
	s.mu.RUnlock()

	sortOrders(list)
	return list, nil
}

func (s *MemoryStore) Get(_ context.Context, trackingID string) (*model.PendingOrder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[trackingID]
	if !ok {
		return nil, ErrNotFound
	}
	o = copyOrder(o)
	return &o, nil
}

func (s *MemoryStore) Complete(_ context.Context, trackingID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, trackingID)
	return nil
}

func (s *MemoryStore) UpdateReminder(_ context.Context, trackingID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[trackingID]
	if !ok {
		return nil
	}
	at = at.UTC()
	o.LastReminderAt = &at
	s.orders[trackingID] = o
	return nil
}

func (s *MemoryStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.orders), nil
}

func (s *MemoryStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, o := range s.orders {
		if o.SentAt.Before(cutoff) {
			delete(s.orders, id)
			purged++
		}
	}
	return purged, nil
}

func (s *MemoryStore) Degraded() bool { return false }
