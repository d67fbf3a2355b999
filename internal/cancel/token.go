// Package cancel provides the cooperative cancellation token polled at
// chapter and image boundaries during a batch run. Cancellation never
// interrupts an in-flight request; it stops the next one from starting.
package cancel

import "sync/atomic"

type Token struct {
	flag atomic.Bool
}

func NewToken() *Token {
	return &Token{}
}

func (t *Token) Cancel() {
	t.flag.Store(true)
}

// Cancelled reports the flag state. Safe to call with a nil token so callers
// without a cancellation source can pass nil.
func (t *Token) Cancelled() bool {
	if t == nil {
		return false
	}
	return t.flag.Load()
}

func (t *Token) Reset() {
	if t != nil {
		t.flag.Store(false)
	}
}
