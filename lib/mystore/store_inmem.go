package mystore

import (
	"context"
	"log"
	"slices"
	"sort"
	"sync"
)

// inMemoryTransaction collects the compensations of every write done within the unit of work.
// It is shared by all in-memory stores, so one rollback restores all of them.
type inMemoryTransaction struct {
	sync.Mutex
	undo []func()
}

func (t *inMemoryTransaction) record(undo func()) {
	t.Lock()
	defer t.Unlock()
	t.undo = append(t.undo, undo)
}

func (t *inMemoryTransaction) rollback() {
	t.Lock()
	defer t.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

type InMemoryStore[T any] struct {
	sync.Mutex
	Items map[string]T
}

func NewInMemoryStore[T any](c context.Context) (*InMemoryStore[T], func(), error) {
	return &InMemoryStore[T]{
		Items: make(map[string]T),
	}, func() {}, nil
}

// RunInTransaction gives atomicity (all writes are undone when f fails) but no isolation between
// concurrent units of work.
func (s *InMemoryStore[T]) RunInTransaction(c context.Context, f func(c context.Context) error) error {
	if _, ok := c.Value(ctxTransactionKey{}).(*inMemoryTransaction); ok {
		// join the running transaction
		return f(c)
	}

	tx := &inMemoryTransaction{}
	ctx := context.WithValue(c, ctxTransactionKey{}, tx)

	err := f(ctx)
	if err != nil {
		log.Printf("Rolling back in-memory transaction due to error %s", err)
		tx.rollback()
		return err
	}

	return nil
}

func (s *InMemoryStore[T]) Put(c context.Context, uid string, value T) error {
	s.Lock()
	defer s.Unlock()

	previous, existed := s.Items[uid]
	s.Items[uid] = value

	s.recordUndo(c, uid, previous, existed)

	return nil
}

func (s *InMemoryStore[T]) Get(c context.Context, uid string) (T, bool, error) {
	s.Lock()
	defer s.Unlock()

	result, exists := s.Items[uid]

	return result, exists, nil
}

func (s *InMemoryStore[T]) Delete(c context.Context, uid string) error {
	s.Lock()
	defer s.Unlock()

	previous, existed := s.Items[uid]
	if !existed {
		return nil
	}
	delete(s.Items, uid)

	s.recordUndo(c, uid, previous, existed)

	return nil
}

func (s *InMemoryStore[T]) recordUndo(c context.Context, uid string, previous T, existed bool) {
	tx, ok := c.Value(ctxTransactionKey{}).(*inMemoryTransaction)
	if !ok {
		return
	}
	tx.record(func() {
		s.Lock()
		defer s.Unlock()
		if existed {
			s.Items[uid] = previous
		} else {
			delete(s.Items, uid)
		}
	})
}

func (s *InMemoryStore[T]) List(c context.Context) ([]T, error) {
	s.Lock()
	defer s.Unlock()

	uids := make([]string, 0, len(s.Items))
	for uid := range s.Items {
		uids = append(uids, uid)
	}
	slices.Sort(uids)

	result := make([]T, 0, len(s.Items))
	for _, uid := range uids {
		result = append(result, s.Items[uid])
	}

	return result, nil
}

func (s *InMemoryStore[T]) Query(c context.Context, filters []Filter, orderByField string) ([]T, error) {
	all, err := s.List(c)
	if err != nil {
		return nil, err
	}

	result := []T{}
	for _, item := range all {
		ok, err := matches(item, filters)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, item)
		}
	}

	if orderByField != "" {
		field, descending := parseOrder(orderByField)
		sort.SliceStable(result, func(i, j int) bool {
			cmp, _ := compareFields(result[i], result[j], field)
			if descending {
				return cmp > 0
			}
			return cmp < 0
		})
	}

	return result, nil
}
