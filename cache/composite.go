package cache

import (
	"context"
)

type compositeStore struct {
	stores []Store
}

var _ Store = (*compositeStore)(nil)

// NewComposite returns a Store that chains multiple stores together.
// Get checks stores in order and returns the first hit, copying it into the
// earlier tiers that missed. Put, EvictStale, Save and Close apply to all.
// At least one store must be provided; panics if empty.
func NewComposite(stores ...Store) Store {
	if len(stores) == 0 {
		panic("cache: NewComposite requires at least one store")
	}
	return &compositeStore{stores: stores}
}

func (c *compositeStore) Get(ctx context.Context, key Key) (Record, bool, error) {
	for i, store := range c.stores {
		rec, found, err := store.Get(ctx, key)
		if err != nil {
			return Record{}, false, err
		}
		if found {
			for _, upper := range c.stores[:i] {
				_ = upper.Put(ctx, rec)
			}
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

func (c *compositeStore) Put(ctx context.Context, record Record) error {
	var firstErr error
	for _, store := range c.stores {
		if err := store.Put(ctx, record); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EvictStale reports the largest count removed by any tier.
func (c *compositeStore) EvictStale(ctx context.Context, keep func(Record) bool) (int, error) {
	var most int
	for _, store := range c.stores {
		n, err := store.EvictStale(ctx, keep)
		if err != nil {
			return most, err
		}
		most = max(most, n)
	}
	return most, nil
}

// Len reports the size of the last (most complete) tier.
func (c *compositeStore) Len(ctx context.Context) (int, error) {
	return c.stores[len(c.stores)-1].Len(ctx)
}

func (c *compositeStore) Save(ctx context.Context) error {
	var firstErr error
	for _, store := range c.stores {
		if err := store.Save(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (c *compositeStore) Close(ctx context.Context) error {
	var firstErr error
	for _, store := range c.stores {
		if err := store.Close(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
