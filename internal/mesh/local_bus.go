package mesh

import (
	"context"
	"sync"
	"time"
)

// LocalBus delivers events within the process.
type LocalBus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[string]map[int]Handler
}

func NewLocalBus() *LocalBus { return &LocalBus{handlers: map[string]map[int]Handler{}} }

func (b *LocalBus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[e.Topic]))
	for _, h := range b.handlers[e.Topic] {
		hs = append(hs, h)
	}
	b.mu.RUnlock()
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	// fan out asynchronously in goroutines
	for _, h := range hs {
		go h(context.WithoutCancel(ctx), e)
	}
	return nil
}

func (b *LocalBus) Subscribe(topic string, h Handler) (func(), error) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	if b.handlers[topic] == nil {
		b.handlers[topic] = map[int]Handler{}
	}
	b.handlers[topic][id] = h
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.handlers[topic], id)
		b.mu.Unlock()
	}, nil
}

func (b *LocalBus) Close() error { return nil }
