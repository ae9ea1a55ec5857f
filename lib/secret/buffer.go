// Copyright 2026 The Capstan Authors
// SPDX-License-Identifier: Apache-2.0

package secret

import (
	"crypto/subtle"
	"fmt"
	"io"
	"sync"

	"golang.org/x/sys/unix"
)

// Buffer holds sensitive bytes in memory that is locked against
// swapping, excluded from core dumps, and zeroed on Close. The backing
// region is an anonymous mmap outside the Go heap.
//
// A Buffer must not be copied after creation. After Close, any access
// to its contents panics.
type Buffer struct {
	mu     sync.Mutex
	region []byte
	length int
	closed bool
}

// New allocates a zero-filled secret buffer of the given size. The
// region is mlock'd (never swapped) and MADV_DONTDUMP'd (never written
// to core dumps). The caller must Close the buffer when the secret is
// no longer needed.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("secret: buffer size must be positive, got %d", size)
	}

	region, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("secret: mmap: %w", err)
	}

	if err := unix.Mlock(region); err != nil {
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: mlock: %w", err)
	}

	if err := unix.Madvise(region, unix.MADV_DONTDUMP); err != nil {
		unix.Munlock(region)
		unix.Munmap(region)
		return nil, fmt.Errorf("secret: madvise(MADV_DONTDUMP): %w", err)
	}

	return &Buffer{
		region: region,
		length: size,
	}, nil
}

// NewFromBytes moves existing bytes into a guarded buffer. The source
// slice is zeroed in place once the copy completes, so the caller's
// heap copy no longer holds the secret.
func NewFromBytes(source []byte) (*Buffer, error) {
	if len(source) == 0 {
		return nil, fmt.Errorf("secret: cannot create buffer from empty source")
	}

	buffer, err := New(len(source))
	if err != nil {
		return nil, err
	}

	copy(buffer.region, source)
	Zero(source)
	return buffer, nil
}

// NewFromReader fills a new guarded buffer with exactly size bytes
// from r. The bytes never land on the Go heap: they are read directly
// into the mmap region. Returns an error if r yields fewer than size
// bytes.
func NewFromReader(r io.Reader, size int) (*Buffer, error) {
	buffer, err := New(size)
	if err != nil {
		return nil, err
	}

	if _, err := io.ReadFull(r, buffer.region); err != nil {
		buffer.Close()
		return nil, fmt.Errorf("secret: reading %d bytes: %w", size, err)
	}
	return buffer, nil
}

// mustOpen panics on use after Close. Callers hold b.mu.
func (b *Buffer) mustOpen() {
	if b.closed {
		panic("secret: use after Close")
	}
}

// Bytes returns the secret data. The slice points directly into the
// mmap region; do not retain it beyond the lifetime of the Buffer.
// Panics after Close.
func (b *Buffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.mustOpen()
	return b.region[:b.length]
}

// String returns the secret as a string. Go strings are immutable heap
// values, so this necessarily copies the secret onto the heap. Use it
// only at API boundaries that demand a string, and prefer Bytes
// everywhere else. Panics after Close.
func (b *Buffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.mustOpen()
	return string(b.region[:b.length])
}

// Len reports the secret's size in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.length
}

// Equal reports whether two buffers hold identical contents, compared
// in constant time. Panics if either buffer has been closed.
func (b *Buffer) Equal(other *Buffer) bool {
	// Lock ordering does not matter here: Bytes takes and releases
	// each buffer's own lock, and the comparison itself reads the
	// returned slices without holding locks. Callers own lifetime.
	left := b.Bytes()
	right := other.Bytes()
	if len(left) != len(right) {
		return false
	}
	return subtle.ConstantTimeCompare(left, right) == 1
}

// WriteTo writes the secret to w. Implements io.WriterTo so the secret
// can be streamed (for example into an age encryptor) without an
// intermediate heap copy. Panics if the buffer has been closed.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	written, err := w.Write(b.Bytes())
	return int64(written), err
}

// Close zeroes the contents and releases the region. After Close, any
// accessor panics. Idempotent.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	Zero(b.region)

	// Unlock/unmap failures are not recoverable by the caller; the
	// region is released at process exit regardless. Run both, report
	// the unlock failure first.
	errUnlock := unix.Munlock(b.region)
	errUnmap := unix.Munmap(b.region)
	b.region = nil

	if errUnlock != nil {
		return fmt.Errorf("secret: munlock: %w", errUnlock)
	}
	if errUnmap != nil {
		return fmt.Errorf("secret: munmap: %w", errUnmap)
	}
	return nil
}

// Zero overwrites a byte slice with zeroes. Use on any transient heap
// slice that held secret material.
func Zero(data []byte) {
	for index := range data {
		data[index] = 0
	}
}
