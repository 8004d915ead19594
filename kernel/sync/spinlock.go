// Package sync provides the spinlock used to guard the kernel's memory
// services.
package sync

import "sync/atomic"

// spinsBeforeYield is the number of failed acquisition attempts after which
// Acquire invokes yieldFn (if set).
const spinsBeforeYield = 128

var (
	// yieldFn is invoked while spinning. It stays nil on the uniprocessor
	// kernel; tests set it to runtime.Gosched.
	yieldFn func()
)

// SetYieldFunc installs the function invoked by Acquire while it waits for a
// contended lock. Host programs that run kernel code on multiple goroutines
// use it to hand the processor back to the Go scheduler.
func SetYieldFunc(fn func()) {
	yieldFn = fn
}

// Spinlock implements a lock where each task trying to acquire it busy-waits
// till the lock becomes available. The zero value is an unlocked Spinlock.
type Spinlock struct {
	state uint32
}

// Acquire blocks until the lock can be acquired by the currently active task.
// Any attempt to re-acquire a lock already held by the current task will cause
// a deadlock.
func (l *Spinlock) Acquire() {
	for spins := 0; ; spins++ {
		// Test before test-and-set to keep the cache line shared while
		// the lock is held by somebody else.
		if atomic.LoadUint32(&l.state) == 0 && atomic.CompareAndSwapUint32(&l.state, 0, 1) {
			return
		}

		if spins == spinsBeforeYield {
			spins = 0
			if yieldFn != nil {
				yieldFn()
			}
		}
	}
}

// TryToAcquire attempts to acquire the lock and returns true if the lock could
// be acquired or false otherwise.
func (l *Spinlock) TryToAcquire() bool {
	return atomic.CompareAndSwapUint32(&l.state, 0, 1)
}

// Release relinquishes a held lock allowing other tasks to acquire it. Calling
// Release while the lock is free has no effect.
func (l *Spinlock) Release() {
	atomic.StoreUint32(&l.state, 0)
}
