package order

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/udhaar/credit-ledger/ledger"
)

// MemoryRepository keeps orders in a map. Used by tests and dev runs.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[ID]Order
}

var _ Repository = (*MemoryRepository)(nil)

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[ID]Order)}
}

func (r *MemoryRepository) Create(_ context.Context, o Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; ok {
		return fmt.Errorf("order %s: %w", o.ID, ledger.ErrDuplicateAccount)
	}
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *MemoryRepository) Get(_ context.Context, id ID) (Order, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	o, ok := r.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("order %s: %w", id, ledger.ErrNotFound)
	}
	return o.Clone(), nil
}

func (r *MemoryRepository) Update(_ context.Context, o Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.orders[o.ID]; !ok {
		return fmt.Errorf("order %s: %w", o.ID, ledger.ErrNotFound)
	}
	r.orders[o.ID] = o.Clone()
	return nil
}

func (r *MemoryRepository) ListByShop(_ context.Context, shopID string) ([]Order, error) {
	return r.list(func(o Order) bool { return o.ShopID == shopID }), nil
}

func (r *MemoryRepository) ListByCustomer(_ context.Context, phone string) ([]Order, error) {
	return r.list(func(o Order) bool { return o.CustomerPhone == phone }), nil
}

// list returns matching orders newest first.
func (r *MemoryRepository) list(keep func(Order) bool) []Order {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Order
	for _, o := range r.orders {
		if keep(o) {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
