package health

import (
	"sync"
	"time"
)

// Breaker stops probing a service for openFor after threshold consecutive
// failed probes.
type Breaker struct {
	mu         sync.Mutex
	failures   int
	openedTill time.Time
	threshold  int
	openFor    time.Duration
	now        func() time.Time
}

func NewBreaker(threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	return &Breaker{threshold: threshold, openFor: openFor, now: time.Now}
}

func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.now().Before(b.openedTill)
}

func (b *Breaker) ReportSuccess() {
	b.mu.Lock()
	b.failures = 0
	b.openedTill = time.Time{}
	b.mu.Unlock()
}

// ReportFailure returns true when this failure opened the breaker.
func (b *Breaker) ReportFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openedTill = b.now().Add(b.openFor)
		b.failures = 0
		return true
	}
	return false
}

// breakers hands out one Breaker per service.
type breakers struct {
	mu        sync.Mutex
	m         map[string]*Breaker
	threshold int
	openFor   time.Duration
}

func (bs *breakers) get(id string) *Breaker {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if b, ok := bs.m[id]; ok {
		return b
	}
	b := NewBreaker(bs.threshold, bs.openFor)
	bs.m[id] = b
	return b
}

func (bs *breakers) forget(id string) {
	bs.mu.Lock()
	delete(bs.m, id)
	bs.mu.Unlock()
}
