package ledger

import (
	"context"
	"fmt"
	"sync"
)

// =============================================================================
// KEYED MUTEX - one writer per key
// =============================================================================

// KeyedMutex serializes work per key while leaving different keys fully
// independent. Acquisition honors the context, so a caller bounded by a
// deadline gets ErrTimeout instead of waiting forever.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*slot)}
}

// Lock blocks until key is free or ctx is done. The returned func releases
// the key and must be called exactly once.
func (k *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, ErrTimeout)
	}
	k.mu.Lock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return func() { k.release(key, s) }, nil
	case <-ctx.Done():
		k.drop(key, s)
		return nil, fmt.Errorf("lock %s: %w", key, ErrTimeout)
	}
}

func (k *KeyedMutex) release(key string, s *slot) {
	<-s.ch
	k.drop(key, s)
}

func (k *KeyedMutex) drop(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}
