package importer

import "sync/atomic"

// ImportLock is a non-blocking guard that keeps two imports from writing
// the gazetteer at the same time.
type ImportLock struct {
	state atomic.Int32 // 0 = idle, 1 = importing
}

// TryAcquire takes the lock without blocking and reports whether it succeeded.
func (l *ImportLock) TryAcquire() bool {
	return l.state.CompareAndSwap(0, 1)
}

// Release frees the lock. Only the holder may call it.
func (l *ImportLock) Release() {
	l.state.Store(0)
}

// Held reports whether an import is running.
func (l *ImportLock) Held() bool {
	return l.state.Load() == 1
}
