package source

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrPoolClosed is returned by Acquire after the pool has been closed.
var ErrPoolClosed = errors.New("reader pool closed")

// PooledReader is a file handle managed by a ReaderPool.
type PooledReader interface {
	io.ReaderAt
	io.Closer
}

// ReaderPool is a fixed-capacity pool of reader handles. Handles are
// created lazily up to capacity; once all handles are out, Acquire
// blocks until one is released.
type ReaderPool struct {
	factory func() (PooledReader, error)

	mu       sync.Mutex
	idle     chan PooledReader
	created  int
	capacity int
	closed   bool
}

// NewReaderPool creates a pool with the given capacity (minimum 1).
func NewReaderPool(capacity int, factory func() (PooledReader, error)) *ReaderPool {
	if capacity < 1 {
		capacity = 1
	}
	return &ReaderPool{
		factory:  factory,
		idle:     make(chan PooledReader, capacity),
		capacity: capacity,
	}
}

// Acquire returns an idle handle, creating one if the pool is below
// capacity, and otherwise blocks until a handle is released or the
// context is cancelled.
func (p *ReaderPool) Acquire(ctx context.Context) (PooledReader, error) {
	// Fast path: an idle handle is already available.
	select {
	case r, ok := <-p.idle:
		if !ok {
			return nil, ErrPoolClosed
		}
		return r, nil
	default:
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.created < p.capacity {
		p.created++
		p.mu.Unlock()
		r, err := p.factory()
		if err != nil {
			p.mu.Lock()
			p.created--
			p.mu.Unlock()
			return nil, err
		}
		return r, nil
	}
	p.mu.Unlock()

	select {
	case r, ok := <-p.idle:
		if !ok {
			return nil, ErrPoolClosed
		}
		return r, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Release returns a handle to the pool for the next waiter.
func (p *ReaderPool) Release(r PooledReader) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		_ = r.Close()
		return
	}
	// The buffer holds every handle ever created, so the send cannot
	// block. Sending under the lock keeps it ordered against Close,
	// which closes the channel under the same lock.
	p.idle <- r
}

// Close closes all idle handles and fails subsequent Acquire calls.
// Handles currently acquired are closed on Release.
func (p *ReaderPool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.idle)
	p.mu.Unlock()

	var firstErr error
	for r := range p.idle {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
