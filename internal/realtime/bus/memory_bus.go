package bus

import (
	"context"
	"sync"

	"github.com/regardsoss/dataprovider/internal/realtime"
)

// MemoryBus delivers messages in-process, synchronously, in publish order.
// It backs single-instance deployments and tests.
type MemoryBus struct {
	mu   sync.RWMutex
	subs []func(realtime.Message)
}

func NewMemoryBus() *MemoryBus { return &MemoryBus{} }

func (b *MemoryBus) Publish(ctx context.Context, msg realtime.Message) error {
	b.mu.RLock()
	subs := append([]func(realtime.Message){}, b.subs...)
	b.mu.RUnlock()
	for _, fn := range subs {
		fn(msg)
	}
	return nil
}

func (b *MemoryBus) StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error {
	if onMsg == nil {
		return nil
	}
	b.mu.Lock()
	b.subs = append(b.subs, onMsg)
	b.mu.Unlock()
	return nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	b.subs = nil
	b.mu.Unlock()
	return nil
}
