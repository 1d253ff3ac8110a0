package secure

import (
	"fmt"
	"sync"

	"github.com/awnumar/memguard"
)

// Sealed keeps key material encrypted at rest in memory using a memguard
// Enclave.
type Sealed struct {
	enclave *memguard.Enclave
	mu      sync.RWMutex
	// destroyed makes Destroy idempotent and blocks use after destroy
	destroyed bool
}

// NewSealed moves data into an enclave. memguard wipes data in the process,
// so the caller's slice is zeroed on return.
func NewSealed(data []byte) (*Sealed, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("cannot seal empty key material")
	}
	return &Sealed{enclave: memguard.NewEnclave(data)}, nil
}

// Open decrypts the enclave into a locked buffer. The caller MUST call
// Destroy on the returned buffer.
func (s *Sealed) Open() (*memguard.LockedBuffer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.destroyed {
		return nil, fmt.Errorf("sealed key has been destroyed")
	}
	return s.enclave.Open()
}

// Use opens the enclave, passes the plaintext to fn and destroys the
// plaintext copy before returning.
func (s *Sealed) Use(fn func([]byte) error) error {
	locked, err := s.Open()
	if err != nil {
		return err
	}
	defer locked.Destroy()
	return fn(locked.Bytes())
}

// Size returns the length of the sealed plaintext, zero once destroyed.
func (s *Sealed) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.destroyed {
		return 0
	}
	return s.enclave.Size()
}

// Destroy drops the enclave. The ciphertext left for the garbage collector is
// safe on its own; memguard.Purge in main clears the enclave key on exit.
func (s *Sealed) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.destroyed {
		return
	}
	s.enclave = nil
	s.destroyed = true
}
