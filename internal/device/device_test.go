package device

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestLease_ReleaseReturnsToBaseline(t *testing.T) {
	m := NewManager(Config{Name: "test", FlushOSMemory: true})

	for i := 0; i < 5; i++ {
		lease, err := m.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Acquire() error = %v", err)
		}
		lease.Alloc(1 << 20)
		lease.Alloc(512)

		if got := m.Stats().ScratchBytes; got != 1<<20+512 {
			t.Fatalf("ScratchBytes while held = %d", got)
		}
		if err := lease.Release(); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
	}

	stats := m.Stats()
	if stats.ScratchBytes != 0 {
		t.Errorf("ScratchBytes = %d, want 0", stats.ScratchBytes)
	}
	if stats.Active != 0 {
		t.Errorf("Active = %d, want 0", stats.Active)
	}
	if stats.Acquired != 5 || stats.Released != 5 {
		t.Errorf("Acquired/Released = %d/%d, want 5/5", stats.Acquired, stats.Released)
	}
}

func TestLease_FinalizersRunInReverse(t *testing.T) {
	m := NewManager(Config{})
	lease, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	var order []int
	for i := 1; i <= 3; i++ {
		lease.OnRelease(func() error {
			order = append(order, i)
			return nil
		})
	}
	if err := lease.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	want := []int{3, 2, 1}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
}

func TestLease_FinalizerErrorStillReleases(t *testing.T) {
	m := NewManager(Config{})
	lease, _ := m.Acquire(context.Background())
	lease.Alloc(100)

	boom := errors.New("boom")
	ran := false
	lease.OnRelease(func() error { ran = true; return nil })
	lease.OnRelease(func() error { return boom })

	err := lease.Release()
	if !errors.Is(err, boom) {
		t.Errorf("Release() error = %v, want boom", err)
	}
	if !ran {
		t.Error("remaining finalizers were skipped")
	}

	stats := m.Stats()
	if stats.ScratchBytes != 0 || stats.Active != 0 {
		t.Errorf("stats after failed release = %+v", stats)
	}
	if stats.ReleaseFailure != 1 {
		t.Errorf("ReleaseFailure = %d, want 1", stats.ReleaseFailure)
	}

	// Slot is free again.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	again, err := m.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire() after failed release error = %v", err)
	}
	again.Release()
}

func TestLease_DoubleRelease(t *testing.T) {
	m := NewManager(Config{})
	lease, _ := m.Acquire(context.Background())
	if err := lease.Release(); err != nil {
		t.Fatalf("first Release() error = %v", err)
	}
	if err := lease.Release(); !errors.Is(err, ErrReleased) {
		t.Errorf("second Release() error = %v, want ErrReleased", err)
	}
	if m.Stats().Released != 1 {
		t.Errorf("Released = %d, want 1", m.Stats().Released)
	}

	// Alloc after release is ignored.
	lease.Alloc(10)
	if m.Stats().ScratchBytes != 0 {
		t.Error("Alloc after release changed scratch")
	}
}

func TestManager_SerializesLeases(t *testing.T) {
	m := NewManager(Config{MaxConcurrent: 1})

	first, err := m.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := m.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("second Acquire() error = %v, want deadline exceeded", err)
	}

	first.Release()
}

func TestManager_ConcurrentRequests(t *testing.T) {
	m := NewManager(Config{MaxConcurrent: 2})

	var wg sync.WaitGroup
	var mu sync.Mutex
	peak := int64(0)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := m.Acquire(context.Background())
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			defer lease.Release()
			lease.Alloc(64)

			mu.Lock()
			if a := m.Stats().Active; a > peak {
				peak = a
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	if peak > 2 {
		t.Errorf("peak active = %d, want <= 2", peak)
	}
	if got := m.Stats().ScratchBytes; got != 0 {
		t.Errorf("ScratchBytes = %d, want 0", got)
	}
}
