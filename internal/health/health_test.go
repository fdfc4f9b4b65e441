package health

import "testing"

func TestSnapshotHealthyWhenNoChecksRegistered(t *testing.T) {
	m := New()
	rep := m.Snapshot()
	if rep.Overall != StatusHealthy {
		t.Fatalf("expected healthy with no checks, got %v", rep.Overall)
	}
}

func TestPoolCheckDegradedWhenSaturated(t *testing.T) {
	m := New()
	m.Register("bar-pool", PoolCheck("bar-pool", func() PoolStats {
		return PoolStats{Size: 5, IdleCount: 0, Rented: 5}
	}))
	rep := m.Snapshot()
	if rep.Overall != StatusDegraded {
		t.Fatalf("expected degraded, got %v", rep.Overall)
	}
}

func TestPoolCheckHealthyWithSpareCapacity(t *testing.T) {
	m := New()
	m.Register("bar-pool", PoolCheck("bar-pool", func() PoolStats {
		return PoolStats{Size: 5, IdleCount: 2, Rented: 3}
	}))
	rep := m.Snapshot()
	if rep.Overall != StatusHealthy {
		t.Fatalf("expected healthy, got %v", rep.Overall)
	}
}

func TestCacheCheckInsufficientSamplesIsHealthy(t *testing.T) {
	m := New()
	m.Register("chain-cache", CacheCheck("chain-cache", 0.8, func() CacheStats {
		return CacheStats{Hits: 2, Misses: 1}
	}))
	rep := m.Snapshot()
	if rep.Overall != StatusHealthy {
		t.Fatalf("expected healthy with insufficient samples, got %v", rep.Overall)
	}
}

func TestCacheCheckDegradedBelowThreshold(t *testing.T) {
	m := New()
	m.Register("chain-cache", CacheCheck("chain-cache", 0.8, func() CacheStats {
		return CacheStats{Hits: 10, Misses: 90}
	}))
	rep := m.Snapshot()
	if rep.Overall != StatusDegraded {
		t.Fatalf("expected degraded, got %v", rep.Overall)
	}
}

func TestWorstStatusWins(t *testing.T) {
	m := New()
	m.Register("healthy-one", func() ComponentReport {
		return ComponentReport{Name: "healthy-one", Status: StatusHealthy}
	})
	m.Register("unhealthy-one", func() ComponentReport {
		return ComponentReport{Name: "unhealthy-one", Status: StatusUnhealthy}
	})
	rep := m.Snapshot()
	if rep.Overall != StatusUnhealthy {
		t.Fatalf("expected unhealthy to dominate, got %v", rep.Overall)
	}
	if len(rep.Components) != 2 {
		t.Fatalf("expected 2 components, got %d", len(rep.Components))
	}
}
