package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/wesleyorama2/ldload/internal/loadtest"
)

func TestVUPool_PreAllocated(t *testing.T) {
	p := newVUPool(3, 5)

	if p.size() != 3 {
		t.Errorf("size() = %d, want 3", p.size())
	}
	if p.busyCount() != 0 {
		t.Errorf("busyCount() = %d, want 0", p.busyCount())
	}
}

func TestVUPool_SpawnsUpToMax(t *testing.T) {
	p := newVUPool(1, 3)

	seen := make(map[int]bool)
	for i := 0; i < 3; i++ {
		vu, ok := p.tryAcquire()
		if !ok {
			t.Fatalf("tryAcquire() #%d failed below max", i+1)
		}
		if seen[vu.ID] {
			t.Fatalf("VU %d handed out twice", vu.ID)
		}
		seen[vu.ID] = true
	}

	if _, ok := p.tryAcquire(); ok {
		t.Error("tryAcquire() should fail when saturated")
	}
	if p.size() != 3 || p.peakBusy() != 3 {
		t.Errorf("size = %d, peak = %d, want 3, 3", p.size(), p.peakBusy())
	}
	for id := 1; id <= 3; id++ {
		if !seen[id] {
			t.Errorf("expected sequential VU IDs, missing %d", id)
		}
	}
}

func TestVUPool_ReusesReleased(t *testing.T) {
	p := newVUPool(1, 1)

	vu, _ := p.tryAcquire()
	p.release(vu)

	again, ok := p.tryAcquire()
	if !ok || again.ID != vu.ID {
		t.Errorf("tryAcquire() = %v, %v, want reuse of %v", again, ok, vu)
	}
}

func TestVUPool_AcquireBlocksUntilRelease(t *testing.T) {
	p := newVUPool(1, 1)
	held, _ := p.tryAcquire()

	go func() {
		time.Sleep(20 * time.Millisecond)
		p.release(held)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	vu, err := p.acquire(ctx)
	if err != nil {
		t.Fatalf("acquire() error = %v", err)
	}
	if vu.ID != held.ID {
		t.Errorf("acquire() = %v, want %v", vu, held)
	}
}

func TestVUPool_AcquireHonoursContext(t *testing.T) {
	p := newVUPool(1, 1)
	p.tryAcquire()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := p.acquire(ctx); err == nil {
		t.Error("acquire() should fail once ctx is done")
	}
}

func TestVUPool_ConcurrentBusyNeverExceedsMax(t *testing.T) {
	const max = 4
	p := newVUPool(0, max)

	var (
		wg      sync.WaitGroup
		current atomic.Int32
		worst   atomic.Int32
	)
	ctx := context.Background()

	for g := 0; g < 32; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				vu, err := p.acquire(ctx)
				if err != nil {
					return
				}
				n := current.Add(1)
				for {
					w := worst.Load()
					if n <= w || worst.CompareAndSwap(w, n) {
						break
					}
				}
				current.Add(-1)
				p.release(vu)
			}
		}()
	}
	wg.Wait()

	if worst.Load() > max {
		t.Errorf("observed %d concurrent VUs, max is %d", worst.Load(), max)
	}
	if p.peakBusy() > max {
		t.Errorf("peakBusy() = %d, max is %d", p.peakBusy(), max)
	}
	if p.size() > max {
		t.Errorf("size() = %d, max is %d", p.size(), max)
	}
}

// TestProperty_PoolBound checks that for any sequence of acquires and
// releases the number of busy VUs never exceeds max and no VU is handed out
// twice while held.
func TestProperty_PoolBound(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		max := rapid.IntRange(1, 16).Draw(t, "max")
		pre := rapid.IntRange(0, max).Draw(t, "preAllocated")
		ops := rapid.SliceOfN(rapid.Bool(), 1, 200).Draw(t, "ops")

		p := newVUPool(pre, max)
		var held []loadtest.VirtualUser
		holding := make(map[int]bool)

		for _, acquire := range ops {
			if acquire {
				vu, ok := p.tryAcquire()
				if !ok {
					if len(held) < max {
						t.Fatalf("tryAcquire() failed with %d of %d held", len(held), max)
					}
					continue
				}
				if holding[vu.ID] {
					t.Fatalf("VU %d handed out while held", vu.ID)
				}
				holding[vu.ID] = true
				held = append(held, vu)
			} else if len(held) > 0 {
				vu := held[len(held)-1]
				held = held[:len(held)-1]
				delete(holding, vu.ID)
				p.release(vu)
			}

			if p.busyCount() != len(held) {
				t.Fatalf("busyCount() = %d, held = %d", p.busyCount(), len(held))
			}
			if p.busyCount() > max || p.size() > max {
				t.Fatalf("busy %d, size %d exceed max %d", p.busyCount(), p.size(), max)
			}
		}
	})
}
