// Package pool bounds the number of concurrently open storage handles
// (row-store connections, columnar file descriptors) behind a
// semaphore-gated rent/return protocol with idle eviction, per spec.md
// §4.8. The mutex-guarded state machine and background-sweep shape are
// adapted from the teacher's internal/resilience.CircuitBreaker and
// CircuitBreakerRegistry (lock discipline, named resources, stats
// surface); the bounded-concurrency primitive itself is
// golang.org/x/sync/semaphore.Weighted, grounded on its use as a direct
// dependency in the haideralmesaody-ISXPulse example repo's go.mod.
package pool

import (
	"container/list"
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Handle is any disposable storage resource the pool manages.
type Handle interface {
	Close() error
}

// Opener constructs a fresh Handle for the pool's key space. The pool
// itself is key-agnostic; Engine builds a single Pool, used for bar
// stores through RentFor, with no default Opener.
type Opener func(ctx context.Context) (Handle, error)

// Config configures a Pool; zero-value fields take spec.md §4.8 defaults.
type Config struct {
	// Size bounds concurrently rented-or-idle handles. Default 20.
	Size int
	// IdleTimeout disposes handles idle longer than this on return or
	// sweep. Default 30 minutes.
	IdleTimeout time.Duration
	// SweepInterval is how often the background reaper runs. Default 10
	// minutes.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.Size <= 0 {
		c.Size = 20
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 30 * time.Minute
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Minute
	}
	return c
}

type entry struct {
	handle    Handle
	idleSince time.Time
	key       string
}

// Pool is a bounded, idle-evicting pool of Handle resources for one
// resource class.
type Pool struct {
	cfg    Config
	open   Opener
	sem    *semaphore.Weighted
	mu     sync.Mutex
	idle   *list.List // of *entry
	closed bool

	stopSweep chan struct{}
	sweepDone chan struct{}

	rented      int64
	disposed    int64
	sweepCycles int64
}

// New constructs a Pool and starts its background reaper.
func New(cfg Config, open Opener) *Pool {
	cfg = cfg.withDefaults()
	p := &Pool{
		cfg:       cfg,
		open:      open,
		sem:       semaphore.NewWeighted(int64(cfg.Size)),
		idle:      list.New(),
		stopSweep: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}
	go p.sweepLoop()
	return p
}

// Rent returns a handle, blocking cooperatively on ctx until one is
// available or ctx is cancelled. It prefers reusing an idle handle —
// reuse does not consume a semaphore permit, since the semaphore bounds
// total handles ever opened concurrently (rented or idle), not the
// rent/return cycle itself. Only opening a brand new handle acquires a
// permit; that permit is released when the handle is eventually
// disposed (sweep or pool Close), not when it is merely returned idle.
func (p *Pool) Rent(ctx context.Context) (Handle, error) {
	p.mu.Lock()
	if front := p.idle.Front(); front != nil {
		p.idle.Remove(front)
		p.rented++
		p.mu.Unlock()
		return front.Value.(*entry).handle, nil
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	h, err := p.open(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	p.mu.Lock()
	p.rented++
	p.mu.Unlock()
	return h, nil
}

// Return releases a rented handle back to the idle queue so a future
// Rent can reuse it without opening a new one. If the pool has been
// disposed, the handle and its semaphore permit are released instead.
func (p *Pool) Return(h Handle) {
	p.mu.Lock()
	p.rented--
	if p.closed {
		p.mu.Unlock()
		h.Close()
		p.sem.Release(1)
		return
	}
	p.idle.PushBack(&entry{handle: h, idleSince: time.Now()})
	p.mu.Unlock()
}

// RentFor is the keyed variant of Rent, used when the pool serves more
// than one distinct resource (e.g. one barstore.Store per symbol-month
// partition): an idle handle is reused only if it was returned under the
// same key, so a caller never receives another partition's connection.
// open is invoked only on a genuine cache miss, letting callers build a
// handle bound to the key (e.g. open the partition file key names).
func (p *Pool) RentFor(ctx context.Context, key string, open Opener) (Handle, error) {
	p.mu.Lock()
	for el := p.idle.Front(); el != nil; el = el.Next() {
		if e := el.Value.(*entry); e.key == key {
			p.idle.Remove(el)
			p.rented++
			p.mu.Unlock()
			return e.handle, nil
		}
	}
	p.mu.Unlock()

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	h, err := open(ctx)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}
	p.mu.Lock()
	p.rented++
	p.mu.Unlock()
	return h, nil
}

// ReturnFor is the keyed variant of Return.
func (p *Pool) ReturnFor(key string, h Handle) {
	p.mu.Lock()
	p.rented--
	if p.closed {
		p.mu.Unlock()
		h.Close()
		p.sem.Release(1)
		return
	}
	p.idle.PushBack(&entry{handle: h, idleSince: time.Now(), key: key})
	p.mu.Unlock()
}

// sweepLoop disposes idle-expired handles every SweepInterval until the
// pool is closed.
func (p *Pool) sweepLoop() {
	defer close(p.sweepDone)
	ticker := time.NewTicker(p.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.stopSweep:
			return
		case <-ticker.C:
			p.sweepIdleExpired()
		}
	}
}

func (p *Pool) sweepIdleExpired() {
	cutoff := time.Now().Add(-p.cfg.IdleTimeout)
	var toClose []Handle

	p.mu.Lock()
	for el := p.idle.Front(); el != nil; {
		next := el.Next()
		e := el.Value.(*entry)
		if e.idleSince.Before(cutoff) {
			p.idle.Remove(el)
			toClose = append(toClose, e.handle)
		}
		el = next
	}
	p.sweepCycles++
	p.mu.Unlock()

	for _, h := range toClose {
		h.Close()
		p.mu.Lock()
		p.disposed++
		p.mu.Unlock()
		p.sem.Release(1)
	}
}

// Close stops the reaper and closes every idle handle. Handles currently
// rented close on their own next Return call.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var toClose []Handle
	for el := p.idle.Front(); el != nil; el = el.Next() {
		toClose = append(toClose, el.Value.(*entry).handle)
	}
	p.idle.Init()
	p.mu.Unlock()

	close(p.stopSweep)
	<-p.sweepDone

	var firstErr error
	for _, h := range toClose {
		if err := h.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		p.sem.Release(1)
	}
	return firstErr
}

// Stats reports pool activity counters, surfaced by internal/health.
type Stats struct {
	IdleCount   int
	Rented      int64
	Disposed    int64
	SweepCycles int64
}

// Size returns the pool's configured capacity, surfaced alongside Stats
// for internal/health.PoolCheck (which needs capacity and rented count
// together to judge saturation).
func (p *Pool) Size() int {
	return p.cfg.Size
}

// Stats returns a snapshot of the pool's activity counters.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		IdleCount:   p.idle.Len(),
		Rented:      p.rented,
		Disposed:    p.disposed,
		SweepCycles: p.sweepCycles,
	}
}
