// Package secret holds key material for the short time it is needed.
//
// A Buffer is backed by an anonymous mmap region outside the Go heap, locked
// against swap and excluded from core dumps where the kernel allows it. When
// the region cannot be locked (a low RLIMIT_MEMLOCK in containers is common)
// the buffer falls back to heap memory. Either way Close zeroes the contents.
package secret

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// ErrClosed is returned when reading a buffer after Close
var ErrClosed = errors.New("secret: buffer closed")

// Buffer holds sensitive bytes. It must not be copied after creation.
type Buffer struct {
	mu     sync.Mutex
	data   []byte
	mapped bool
	closed bool
}

// New allocates a zeroed buffer of the given size
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return &Buffer{data: make([]byte, size)}, nil
	}
	if err := unix.Mlock(data); err != nil {
		unix.Munmap(data)
		return &Buffer{data: make([]byte, size)}, nil
	}
	// Best effort: older kernels reject MADV_DONTDUMP.
	_ = unix.Madvise(data, unix.MADV_DONTDUMP)

	return &Buffer{data: data, mapped: true}, nil
}

// FromString copies s into a new buffer
func FromString(s string) (*Buffer, error) {
	if s == "" {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}
	b, err := New(len(s))
	if err != nil {
		return nil, err
	}
	copy(b.data, s)
	return b, nil
}

// FromBytes moves source into a new buffer and zeroes source
func FromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}
	b, err := New(len(source))
	if err != nil {
		return nil, err
	}
	copy(b.data, source)
	Zero(source)
	return b, nil
}

// Use calls fn with the secret bytes. The slice must not outlive fn.
func (b *Buffer) Use(fn func([]byte) error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	return fn(b.data)
}

// Locked reports whether the buffer is backed by locked memory
func (b *Buffer) Locked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mapped
}

// Close zeroes and releases the buffer. It is idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	Zero(b.data)

	var err error
	if b.mapped {
		if unlockErr := unix.Munlock(b.data); unlockErr != nil {
			err = fmt.Errorf("secret: munlock failed: %w", unlockErr)
		}
		if unmapErr := unix.Munmap(b.data); unmapErr != nil && err == nil {
			err = fmt.Errorf("secret: munmap failed: %w", unmapErr)
		}
	}
	b.data = nil
	return err
}

// Zero overwrites b with zeros
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
