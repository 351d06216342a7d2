package dlink

import "sync"

// MutexCriticalSection serializes Enter/Exit pairs with a mutex. It is
// not an interrupt mask, but gives test code and multi-goroutine hosts a
// real mutual-exclusion CriticalSection to pass to Init instead of the
// default no-op.
type MutexCriticalSection struct {
	mu sync.Mutex
}

func (c *MutexCriticalSection) Enter() { c.mu.Lock() }
func (c *MutexCriticalSection) Exit()  { c.mu.Unlock() }
