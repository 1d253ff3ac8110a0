package secure

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Buffer holds secret bytes that can be erased in place.
type Buffer struct {
	mu    sync.RWMutex
	data  []byte
	wiped bool
}

// NewBuffer copies data into a new Buffer. The caller still owns data.
func NewBuffer(data []byte) *Buffer {
	cp := make([]byte, len(data))
	copy(cp, data)
	return &Buffer{data: cp}
}

// NewBufferString copies s into a new Buffer.
func NewBufferString(s string) *Buffer {
	return NewBuffer([]byte(s))
}

// Bytes returns the live backing slice. It is zeroed by Wipe, so callers must
// not retain it past the buffer's lifetime.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.wiped {
		return nil
	}
	return b.data
}

// String returns a copy of the contents as a string. The copy is not erased
// by Wipe.
func (b *Buffer) String() string {
	if b == nil {
		return ""
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.wiped {
		return ""
	}
	return string(b.data)
}

// Len returns the number of bytes held, zero after Wipe.
func (b *Buffer) Len() int {
	return len(b.Bytes())
}

// Empty reports whether the buffer is nil, wiped, or holds nothing.
func (b *Buffer) Empty() bool {
	return b.Len() == 0
}

// Wiped reports whether Wipe has been called.
func (b *Buffer) Wiped() bool {
	if b == nil {
		return false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.wiped
}

// Wipe overwrites the contents with zeros. Idempotent and nil-safe.
func (b *Buffer) Wipe() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.wiped {
		return
	}
	memguard.WipeBytes(b.data)
	b.wiped = true
}

// Wipe overwrites b with zeros.
func Wipe(b []byte) {
	memguard.WipeBytes(b)
}
