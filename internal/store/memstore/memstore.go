package memstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/felo/emailparser/internal/store"
)

func New() *Store {
	return &Store{
		emails: make(map[int64]*store.Email),
		now:    time.Now,
	}
}

var _ store.Store = (*Store)(nil)

// Store keeps emails in process memory. Writers take the exclusive lock, so a
// merge never interleaves with another write and readers never see a
// half-built email.
type Store struct {
	mu      sync.RWMutex
	emails  map[int64]*store.Email
	emailID atomic.Int64
	tradeID atomic.Int64
	now     func() time.Time
}

func (s *Store) NextEmailID(ctx context.Context) (int64, error) {
	return s.emailID.Add(1), nil
}

func (s *Store) NextTradeID(ctx context.Context) (int64, error) {
	return s.tradeID.Add(1), nil
}

func (s *Store) Create(ctx context.Context, e *store.Email) (*store.Email, error) {
	created := e.Clone()
	if created.ID == 0 {
		created.ID = s.emailID.Add(1)
	}
	for i := range created.Trades {
		created.Trades[i].EmailID = created.ID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.emails[created.ID]; ok {
		return nil, fmt.Errorf("email %d already exists", created.ID)
	}

	now := s.now()
	created.CreatedAt = now
	created.ModifiedAt = now
	created.Sent = false
	s.emails[created.ID] = created

	return created.Clone(), nil
}

func (s *Store) Get(ctx context.Context, id int64) (*store.Email, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.emails[id]
	if !ok {
		return nil, fmt.Errorf("get email %d: %w", id, store.ErrNotFound)
	}
	return e.Clone(), nil
}

func (s *Store) Merge(ctx context.Context, id int64, patch store.EmailPatch) (*store.Email, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.emails[id]
	if !ok {
		return nil, fmt.Errorf("merge email %d: %w", id, store.ErrNotFound)
	}

	if err := patch.Validate(existing); err != nil {
		return nil, err
	}

	merged := existing.Clone()
	patch.Apply(merged, s.now())
	s.emails[id] = merged

	return merged.Clone(), nil
}

func (s *Store) List(ctx context.Context) ([]*store.Email, error) {
	s.mu.RLock()
	emails := make([]*store.Email, 0, len(s.emails))
	for _, e := range s.emails {
		emails = append(emails, e.Clone())
	}
	s.mu.RUnlock()

	store.SortNewestFirst(emails)
	return emails, nil
}
