package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type fakeHandle struct {
	closed int32
}

func (h *fakeHandle) Close() error {
	atomic.StoreInt32(&h.closed, 1)
	return nil
}

func TestRentReturnReusesIdleHandle(t *testing.T) {
	opens := int32(0)
	p := New(Config{Size: 2}, func(ctx context.Context) (Handle, error) {
		atomic.AddInt32(&opens, 1)
		return &fakeHandle{}, nil
	})
	defer p.Close()

	ctx := context.Background()
	h1, err := p.Rent(ctx)
	if err != nil {
		t.Fatalf("Rent: %v", err)
	}
	p.Return(h1)

	h2, err := p.Rent(ctx)
	if err != nil {
		t.Fatalf("Rent: %v", err)
	}
	if h1 != h2 {
		t.Fatalf("expected reuse of returned handle")
	}
	if atomic.LoadInt32(&opens) != 1 {
		t.Fatalf("expected exactly 1 open, got %d", opens)
	}
}

func TestRentBlocksWhenExhausted(t *testing.T) {
	p := New(Config{Size: 1}, func(ctx context.Context) (Handle, error) {
		return &fakeHandle{}, nil
	})
	defer p.Close()

	ctx := context.Background()
	h1, err := p.Rent(ctx)
	if err != nil {
		t.Fatalf("Rent: %v", err)
	}

	ctx2, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = p.Rent(ctx2)
	if err == nil {
		t.Fatalf("expected Rent to block and time out when exhausted")
	}

	p.Return(h1)
}

func TestCloseClosesIdleHandles(t *testing.T) {
	p := New(Config{Size: 2}, func(ctx context.Context) (Handle, error) {
		return &fakeHandle{}, nil
	})

	ctx := context.Background()
	h, err := p.Rent(ctx)
	if err != nil {
		t.Fatalf("Rent: %v", err)
	}
	p.Return(h)

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	fh := h.(*fakeHandle)
	if atomic.LoadInt32(&fh.closed) != 1 {
		t.Fatalf("expected idle handle to be closed on pool Close")
	}
}

func TestReturnAfterCloseClosesHandleImmediately(t *testing.T) {
	p := New(Config{Size: 1}, func(ctx context.Context) (Handle, error) {
		return &fakeHandle{}, nil
	})

	ctx := context.Background()
	h, err := p.Rent(ctx)
	if err != nil {
		t.Fatalf("Rent: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	p.Return(h)

	fh := h.(*fakeHandle)
	if atomic.LoadInt32(&fh.closed) != 1 {
		t.Fatalf("expected handle returned post-close to be closed immediately")
	}
}

func TestSweepDisposesIdleExpiredHandles(t *testing.T) {
	p := New(Config{Size: 2, IdleTimeout: time.Millisecond, SweepInterval: 5 * time.Millisecond}, func(ctx context.Context) (Handle, error) {
		return &fakeHandle{}, nil
	})
	defer p.Close()

	ctx := context.Background()
	h, err := p.Rent(ctx)
	if err != nil {
		t.Fatalf("Rent: %v", err)
	}
	p.Return(h)

	time.Sleep(30 * time.Millisecond)

	stats := p.Stats()
	if stats.IdleCount != 0 {
		t.Fatalf("expected idle-expired handle to be swept, idle count = %d", stats.IdleCount)
	}
	if stats.Disposed == 0 {
		t.Fatalf("expected at least one disposed handle, got %d", stats.Disposed)
	}
	fh := h.(*fakeHandle)
	if atomic.LoadInt32(&fh.closed) != 1 {
		t.Fatalf("expected swept handle to be closed")
	}
}

func TestRentForReusesOnlyMatchingKey(t *testing.T) {
	opens := make(map[string]int32)
	var mu sync.Mutex
	open := func(key string) Opener {
		return func(ctx context.Context) (Handle, error) {
			mu.Lock()
			opens[key]++
			mu.Unlock()
			return &fakeHandle{}, nil
		}
	}

	p := New(Config{Size: 4}, func(ctx context.Context) (Handle, error) { return &fakeHandle{}, nil })
	defer p.Close()

	ctx := context.Background()
	ha, err := p.RentFor(ctx, "SPX:2024-01", open("SPX:2024-01"))
	if err != nil {
		t.Fatalf("RentFor: %v", err)
	}
	p.ReturnFor("SPX:2024-01", ha)

	hb, err := p.RentFor(ctx, "VIX:2024-01", open("VIX:2024-01"))
	if err != nil {
		t.Fatalf("RentFor: %v", err)
	}
	if ha == hb {
		t.Fatalf("expected distinct handles for distinct keys")
	}

	ha2, err := p.RentFor(ctx, "SPX:2024-01", open("SPX:2024-01"))
	if err != nil {
		t.Fatalf("RentFor: %v", err)
	}
	if ha2 != ha {
		t.Fatalf("expected reuse of the SPX handle by key")
	}

	mu.Lock()
	defer mu.Unlock()
	if opens["SPX:2024-01"] != 1 {
		t.Fatalf("expected exactly 1 open for SPX key, got %d", opens["SPX:2024-01"])
	}
	if opens["VIX:2024-01"] != 1 {
		t.Fatalf("expected exactly 1 open for VIX key, got %d", opens["VIX:2024-01"])
	}
}

func TestStatsReflectsRentedCount(t *testing.T) {
	p := New(Config{Size: 3}, func(ctx context.Context) (Handle, error) {
		return &fakeHandle{}, nil
	})
	defer p.Close()

	ctx := context.Background()
	if _, err := p.Rent(ctx); err != nil {
		t.Fatalf("Rent: %v", err)
	}
	if _, err := p.Rent(ctx); err != nil {
		t.Fatalf("Rent: %v", err)
	}

	stats := p.Stats()
	if stats.Rented != 2 {
		t.Fatalf("expected Rented == 2, got %d", stats.Rented)
	}
}
