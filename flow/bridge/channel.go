package bridge

import (
	"sync"
	"time"
)

// Word names one of the shared channel's integer control words.
type Word int

const (
	// WordLock is the word callers block on. Zero means "no reply yet";
	// a positive value is the replying side's request id; a negative
	// value is the negated id, signaling a delivery failure.
	WordLock Word = iota

	// WordLength holds the byte length of the payload currently framed
	// in the buffer.
	WordLength
)

// SharedChannel is a fixed-capacity byte buffer plus two integer control
// words, supporting store, load, blocking wait, and notify on each word.
//
// It is the single-slot rendezvous the Bridge and its Worker exchange one
// request/response payload through. Layout mirrors the wire framing:
//
//	[lockWord:int32][lengthWord:int32][payloadBytes...]
//
// Wait and Notify are built on a condition variable rather than raw futex
// semantics; the contract is the same: Wait(word, expected, timeout)
// returns as soon as the word's value differs from expected, or fails
// after timeout.
//
// A SharedChannel carries no ownership protocol of its own. The Bridge
// serializes access so at most one outstanding call occupies the slot.
type SharedChannel struct {
	mu    sync.Mutex
	cond  *sync.Cond
	words [2]int32
	buf   []byte
}

// NewSharedChannel creates a channel with the given payload capacity in
// bytes. Capacity must be positive; the conventional default is 64 KiB.
func NewSharedChannel(capacity int) *SharedChannel {
	if capacity <= 0 {
		capacity = 64 * 1024
	}
	c := &SharedChannel{buf: make([]byte, capacity)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Capacity returns the payload capacity in bytes.
func (c *SharedChannel) Capacity() int { return len(c.buf) }

// Store sets a control word without notifying waiters. Pair with Notify,
// or use StoreNotify.
func (c *SharedChannel) Store(w Word, v int32) {
	c.mu.Lock()
	c.words[w] = v
	c.mu.Unlock()
}

// Load returns a control word's current value.
func (c *SharedChannel) Load(w Word) int32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.words[w]
}

// Notify wakes all goroutines blocked in Wait, regardless of word. The
// channel carries a single condition variable; a waiter whose own word is
// unchanged treats the wakeup as spurious and goes back to sleep, so
// per-word selectivity is unnecessary.
func (c *SharedChannel) Notify(w Word) {
	c.mu.Lock()
	c.cond.Broadcast()
	c.mu.Unlock()
}

// StoreNotify sets a control word and wakes waiters in one step.
func (c *SharedChannel) StoreNotify(w Word, v int32) {
	c.mu.Lock()
	c.words[w] = v
	c.cond.Broadcast()
	c.mu.Unlock()
}

// Wait blocks until the word's value differs from expected, then returns
// the observed value. If the value already differs on entry it returns
// immediately. Returns ErrTimeout when timeout elapses first.
//
// A timeout of zero or less means wait forever.
func (c *SharedChannel) Wait(w Word, expected int32, timeout time.Duration) (int32, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for c.words[w] == expected {
		if timeout <= 0 {
			c.cond.Wait()
			continue
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return c.words[w], ErrTimeout
		}
		// sync.Cond has no timed wait; arm a wakeup timer so the loop
		// re-checks the deadline even if nobody notifies.
		t := time.AfterFunc(remaining, func() {
			c.mu.Lock()
			c.cond.Broadcast()
			c.mu.Unlock()
		})
		c.cond.Wait()
		t.Stop()
	}
	return c.words[w], nil
}

// WriteBytes frames a payload into the buffer and records its length in
// WordLength. Returns ErrBufferTooSmall when the payload exceeds capacity;
// the buffer and length word are left untouched in that case.
//
// WriteBytes does not touch WordLock; the caller signals readiness by
// storing an id there once the frame is in place.
func (c *SharedChannel) WriteBytes(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(p) > len(c.buf) {
		return ErrBufferTooSmall
	}
	copy(c.buf, p)
	c.words[WordLength] = int32(len(p))
	return nil
}

// ReadBytes copies the currently framed payload out of the buffer, using
// WordLength as the frame size.
func (c *SharedChannel) ReadBytes() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := int(c.words[WordLength])
	if n < 0 || n > len(c.buf) {
		return nil
	}
	out := make([]byte, n)
	copy(out, c.buf[:n])
	return out
}
