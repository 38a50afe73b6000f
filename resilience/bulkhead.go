package resilience

import (
	"context"
	"errors"
)

// ErrBulkheadFull is returned by a non-queueing bulkhead with no free slot.
var ErrBulkheadFull = errors.New("bulkhead is full")

// BulkheadConfig configures a bulkhead.
type BulkheadConfig struct {
	// Name identifies the bulkhead in logs.
	Name string
	// MaxConcurrent is the number of slots. Zero means 10.
	MaxConcurrent int
	// Queue makes callers wait for a slot until their context is done.
	// Without it a full bulkhead rejects immediately.
	Queue bool
}

// Bulkhead limits how many calls run at once.
type Bulkhead struct {
	cfg BulkheadConfig
	sem chan struct{}
}

// NewBulkhead creates a bulkhead.
func NewBulkhead(cfg BulkheadConfig) *Bulkhead {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	return &Bulkhead{cfg: cfg, sem: make(chan struct{}, cfg.MaxConcurrent)}
}

// Execute runs fn in a slot.
func (b *Bulkhead) Execute(ctx context.Context, fn func() error) error {
	if err := b.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-b.sem }()
	return fn()
}

// ExecuteWithResult runs fn in a slot of b and returns its value.
func ExecuteWithResult[T any](b *Bulkhead, ctx context.Context, fn func() (T, error)) (T, error) {
	var v T
	err := b.Execute(ctx, func() error {
		var err error
		v, err = fn()
		return err
	})
	return v, err
}

func (b *Bulkhead) acquire(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case b.sem <- struct{}{}:
		return nil
	default:
	}
	if !b.cfg.Queue {
		return ErrBulkheadFull
	}
	select {
	case b.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InUse returns the number of occupied slots.
func (b *Bulkhead) InUse() int { return len(b.sem) }

// MaxConcurrent returns the number of slots.
func (b *Bulkhead) MaxConcurrent() int { return b.cfg.MaxConcurrent }
