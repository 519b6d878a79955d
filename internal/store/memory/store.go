// Package memory is an in-process ledger.Store for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"buddypay.org/internal/ledger"
)

type relKey struct{ from, to string }

// Store keeps committed rows in maps guarded by one RWMutex. Units of work
// stage their writes and apply them under the write lock when fn succeeds.
// Account locks are per user, so units over disjoint accounts run in parallel.
type Store struct {
	mu sync.RWMutex

	roles     map[string]ledger.Role
	users     map[string]ledger.User
	accounts  map[string]ledger.Account           // by user id
	txs       map[string]ledger.Transaction
	fees      map[string]ledger.Fee
	revenue   map[string]ledger.MonetizationEntry // by transaction id
	relations map[relKey]ledger.Relation
	banks     map[string]ledger.BankAccount

	seq atomic.Uint64

	locksMu sync.Mutex
	locks   map[string]chan struct{}
}

var _ ledger.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		roles:     make(map[string]ledger.Role),
		users:     make(map[string]ledger.User),
		accounts:  make(map[string]ledger.Account),
		txs:       make(map[string]ledger.Transaction),
		fees:      make(map[string]ledger.Fee),
		revenue:   make(map[string]ledger.MonetizationEntry),
		relations: make(map[relKey]ledger.Relation),
		banks:     make(map[string]ledger.BankAccount),
		locks:     make(map[string]chan struct{}),
	}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) Atomic(ctx context.Context, lockUsers []string, fn func(ctx context.Context, uow ledger.UnitOfWork) error) error {
	release, err := s.lock(ctx, lockUsers)
	if err != nil {
		return err
	}
	defer release()

	u := s.begin()
	if err := fn(ctx, u); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(u)
}

// lock acquires the per-user locks in sorted order. Waiting honours ctx.
func (s *Store) lock(ctx context.Context, userIDs []string) (func(), error) {
	ids := sorted(userIDs)
	held := make([]chan struct{}, 0, len(ids))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}
	for _, id := range ids {
		ch := s.userLock(id)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}
	return release, nil
}

func (s *Store) userLock(id string) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	return ch
}

func (s *Store) begin() *unit {
	return &unit{
		store:     s,
		roles:     newTable(&s.mu, s.roles),
		users:     newTable(&s.mu, s.users),
		accounts:  newTable(&s.mu, s.accounts),
		txs:       newTable(&s.mu, s.txs),
		fees:      newTable(&s.mu, s.fees),
		revenue:   newTable(&s.mu, s.revenue),
		relations: newTable(&s.mu, s.relations),
		banks:     newTable(&s.mu, s.banks),
	}
}

func (s *Store) commit(u *unit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := u.validate(); err != nil {
		return err
	}
	u.roles.apply()
	u.users.apply()
	u.accounts.apply()
	u.txs.apply()
	u.fees.apply()
	u.revenue.apply()
	u.relations.apply()
	u.banks.apply()
	return nil
}

func sorted(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok || id == "" {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
