package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"p2pmaker/internal/core"
)

// MemoryDispatchStore implements the core.IDispatchStore interface in
// process memory. Used in tests and when no database path is configured.
type MemoryDispatchStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*core.Dispatch // merchantID -> id -> dispatch
}

func NewMemoryDispatchStore() *MemoryDispatchStore {
	return &MemoryDispatchStore{data: make(map[string]map[string]*core.Dispatch)}
}

func (s *MemoryDispatchStore) Create(_ context.Context, d *core.Dispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[d.MerchantID] == nil {
		s.data[d.MerchantID] = make(map[string]*core.Dispatch)
	}
	if _, exists := s.data[d.MerchantID][d.ID]; exists {
		return fmt.Errorf("dispatch %s already exists", d.ID)
	}
	cp := *d
	s.data[d.MerchantID][d.ID] = &cp
	return nil
}

func (s *MemoryDispatchStore) Get(_ context.Context, merchantID, id string) (*core.Dispatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[merchantID][id]
	if !ok {
		return nil, nil
	}
	cp := *d
	return &cp, nil
}

func (s *MemoryDispatchStore) Update(_ context.Context, d *core.Dispatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[d.MerchantID][d.ID]; !ok {
		return fmt.Errorf("update dispatch %s: not found", d.ID)
	}
	cp := *d
	s.data[d.MerchantID][d.ID] = &cp
	return nil
}

func (s *MemoryDispatchStore) ListByState(_ context.Context, merchantID string, state core.DispatchState) ([]*core.Dispatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Dispatch
	for _, d := range s.data[merchantID] {
		if d.State == state {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryDispatchStore) ListDue(_ context.Context, merchantID string, now time.Time) ([]*core.Dispatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Dispatch
	for _, d := range s.data[merchantID] {
		if (d.State == core.DispatchPending || d.State == core.DispatchRetrying) && !d.NextAttemptAt.After(now) {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttemptAt.Before(out[j].NextAttemptAt) })
	return out, nil
}

// MemoryOrderStore implements the core.IOrderStore interface in process
// memory.
type MemoryOrderStore struct {
	mu   sync.RWMutex
	data map[string]map[string]*core.Order // merchantID -> orderNumber -> order
}

func NewMemoryOrderStore() *MemoryOrderStore {
	return &MemoryOrderStore{data: make(map[string]map[string]*core.Order)}
}

func (s *MemoryOrderStore) Upsert(_ context.Context, o *core.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data[o.MerchantID] == nil {
		s.data[o.MerchantID] = make(map[string]*core.Order)
	}
	cp := *o
	s.data[o.MerchantID][o.OrderNumber] = &cp
	return nil
}

func (s *MemoryOrderStore) Get(_ context.Context, merchantID, orderNumber string) (*core.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.data[merchantID][orderNumber]
	if !ok {
		return nil, nil
	}
	cp := *o
	return &cp, nil
}

func (s *MemoryOrderStore) List(_ context.Context, merchantID string, status core.OrderStatus, since time.Time) ([]*core.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.Order
	for _, o := range s.data[merchantID] {
		if status != "" && o.Status != status {
			continue
		}
		if o.CreatedAt.Before(since) {
			continue
		}
		cp := *o
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MemoryTupleStateStore implements the core.ITupleStateStore interface in
// process memory.
type MemoryTupleStateStore struct {
	mu   sync.RWMutex
	data map[string]*core.TupleState // tuple key -> state
}

func NewMemoryTupleStateStore() *MemoryTupleStateStore {
	return &MemoryTupleStateStore{data: make(map[string]*core.TupleState)}
}

func (s *MemoryTupleStateStore) Save(_ context.Context, st *core.TupleState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.data[st.Tuple.String()] = &cp
	return nil
}

func (s *MemoryTupleStateStore) Load(_ context.Context, t core.Tuple) (*core.TupleState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.data[t.String()]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryTupleStateStore) LoadAll(_ context.Context, merchantID string) ([]*core.TupleState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*core.TupleState
	for _, st := range s.data {
		if st.Tuple.MerchantID == merchantID {
			cp := *st
			out = append(out, &cp)
		}
	}
	return out, nil
}
