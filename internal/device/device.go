// Package device manages the scoped context inference runs in.
//
// Recognition engines hold native or accelerator memory (model weights,
// tesseract clients, a remote server's cache) for the duration of a call.
// A Lease makes that explicit: it is acquired before inference, engines
// account scratch memory and register finalizers against it, and Release
// returns everything to baseline on every exit path.
package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrReleased is returned when a released lease is used again.
var ErrReleased = errors.New("device lease already released")

// Context is the view of a lease that engines see.
type Context interface {
	// Alloc records n bytes of scratch memory held for this call.
	Alloc(n int64)

	// OnRelease registers fn to run when the lease is released.
	OnRelease(fn func() error)
}

// Config configures a Manager.
type Config struct {
	// Name identifies the device in logs and status (e.g. "cpu", "cuda:0").
	Name string
	// MaxConcurrent bounds how many leases may be held at once (default: 1).
	MaxConcurrent int64
	// FlushOSMemory returns freed heap to the OS on every release.
	FlushOSMemory bool
	Logger        *slog.Logger
}

// Manager hands out leases on a single device.
type Manager struct {
	name  string
	flush bool
	sem   *semaphore.Weighted
	max   int64

	logger *slog.Logger

	active   atomic.Int64
	acquired atomic.Int64
	released atomic.Int64
	scratch  atomic.Int64
	failures atomic.Int64
}

// NewManager creates a device manager.
func NewManager(cfg Config) *Manager {
	if cfg.Name == "" {
		cfg.Name = "cpu"
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		name:   cfg.Name,
		flush:  cfg.FlushOSMemory,
		sem:    semaphore.NewWeighted(cfg.MaxConcurrent),
		max:    cfg.MaxConcurrent,
		logger: cfg.Logger,
	}
}

// Name returns the device name.
func (m *Manager) Name() string {
	return m.name
}

// Acquire blocks until a slot is free or ctx is done.
// The caller must Release the returned lease.
func (m *Manager) Acquire(ctx context.Context) (*Lease, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("failed to acquire device %s: %w", m.name, err)
	}
	m.active.Add(1)
	m.acquired.Add(1)
	return &Lease{mgr: m}, nil
}

// Stats is a point-in-time snapshot of device usage.
type Stats struct {
	Device         string `json:"device"`
	MaxConcurrent  int64  `json:"max_concurrent"`
	Active         int64  `json:"active"`
	Acquired       int64  `json:"acquired"`
	Released       int64  `json:"released"`
	ScratchBytes   int64  `json:"scratch_bytes"`
	ReleaseFailure int64  `json:"release_failures"`
}

// Stats returns current usage. ScratchBytes is zero whenever no lease is held.
func (m *Manager) Stats() Stats {
	return Stats{
		Device:         m.name,
		MaxConcurrent:  m.max,
		Active:         m.active.Load(),
		Acquired:       m.acquired.Load(),
		Released:       m.released.Load(),
		ScratchBytes:   m.scratch.Load(),
		ReleaseFailure: m.failures.Load(),
	}
}

// Lease is a held slot on a device.
type Lease struct {
	mgr *Manager

	mu       sync.Mutex
	bytes    int64
	cleanups []func() error
	done     bool
}

var _ Context = (*Lease)(nil)

// Alloc records n bytes of scratch held by this lease.
func (l *Lease) Alloc(n int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done || n <= 0 {
		return
	}
	l.bytes += n
	l.mgr.scratch.Add(n)
}

// OnRelease registers fn to run on Release. Finalizers run in reverse order.
// Registering on a released lease runs fn immediately.
func (l *Lease) OnRelease(fn func() error) {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		if err := fn(); err != nil {
			l.mgr.failures.Add(1)
			l.mgr.logger.Warn("late device finalizer failed", "device", l.mgr.name, "error", err)
		}
		return
	}
	l.cleanups = append(l.cleanups, fn)
	l.mu.Unlock()
}

// Bytes returns scratch currently accounted to the lease.
func (l *Lease) Bytes() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.bytes
}

// Release runs finalizers, returns scratch to baseline and frees the slot.
// It is safe to call more than once; later calls return ErrReleased.
func (l *Lease) Release() error {
	l.mu.Lock()
	if l.done {
		l.mu.Unlock()
		return ErrReleased
	}
	l.done = true
	cleanups := l.cleanups
	l.cleanups = nil
	held := l.bytes
	l.bytes = 0
	l.mu.Unlock()

	var errs []error
	for i := len(cleanups) - 1; i >= 0; i-- {
		if err := cleanups[i](); err != nil {
			errs = append(errs, err)
		}
	}

	l.mgr.scratch.Add(-held)
	l.mgr.active.Add(-1)
	l.mgr.released.Add(1)
	l.mgr.sem.Release(1)

	if l.mgr.flush {
		debug.FreeOSMemory()
	}

	if len(errs) > 0 {
		l.mgr.failures.Add(1)
		err := errors.Join(errs...)
		l.mgr.logger.Warn("device release finalizers failed", "device", l.mgr.name, "error", err)
		return err
	}
	return nil
}
