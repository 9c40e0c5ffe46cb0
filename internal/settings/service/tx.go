package service

import (
	"context"
	"sync"
)

// inMemoryTx serializes saves with a coarse lock when no database
// transaction is available.
type inMemoryTx struct {
	mu sync.Mutex
}

func newInMemoryTx() *inMemoryTx {
	return &inMemoryTx{}
}

func (t *inMemoryTx) RunInTx(ctx context.Context, fn func(txCtx context.Context) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return fn(ctx)
}
