package inventory

import (
	"context"
	"sync"
)

type cell struct {
	mu        sync.Mutex
	available int
	tracked   bool
}

// MemoryLedger keeps stock in memory with one lock per product, so
// decrements of different products never contend.
type MemoryLedger struct {
	mu    sync.RWMutex
	cells map[int64]*cell
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{cells: make(map[int64]*cell)}
}

func (l *MemoryLedger) lookup(productID int64) *cell {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cells[productID]
}

func (l *MemoryLedger) lookupOrCreate(productID int64) *cell {
	if c := l.lookup(productID); c != nil {
		return c
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	c, ok := l.cells[productID]
	if !ok {
		c = &cell{}
		l.cells[productID] = c
	}
	return c
}

func (l *MemoryLedger) AvailableQuantity(_ context.Context, productID int64) (*int, error) {
	c := l.lookup(productID)
	if c == nil {
		return nil, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tracked {
		return nil, nil
	}
	return Tracked(c.available), nil
}

func (l *MemoryLedger) TryDecrement(_ context.Context, productID int64, quantity int) (bool, error) {
	if err := checkArgs(productID, quantity); err != nil {
		return false, err
	}
	c := l.lookup(productID)
	if c == nil {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tracked || c.available < quantity {
		return false, nil
	}
	c.available -= quantity
	return true, nil
}

func (l *MemoryLedger) Release(_ context.Context, productID int64, quantity int) error {
	if err := checkArgs(productID, quantity); err != nil {
		return err
	}
	c := l.lookup(productID)
	if c == nil {
		return ErrNotTracked
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tracked {
		return ErrNotTracked
	}
	c.available += quantity
	return nil
}

func (l *MemoryLedger) Restock(_ context.Context, productID int64, quantity int) error {
	if err := checkArgs(productID, quantity); err != nil {
		return err
	}
	l.mu.Lock()
	c, ok := l.cells[productID]
	if !ok {
		l.cells[productID] = &cell{available: quantity, tracked: true}
		l.mu.Unlock()
		return nil
	}
	l.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tracked {
		return ErrNotTracked
	}
	c.available += quantity
	return nil
}

func (l *MemoryLedger) SetStock(_ context.Context, productID int64, available *int) error {
	if productID <= 0 {
		return ErrInvalidProduct
	}
	if available != nil && *available < 0 {
		return ErrInvalidQuantity
	}
	c := l.lookupOrCreate(productID)
	c.mu.Lock()
	defer c.mu.Unlock()
	if available == nil {
		c.available, c.tracked = 0, false
		return nil
	}
	c.available, c.tracked = *available, true
	return nil
}
