package source

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeReader struct {
	closed bool
}

func (f *fakeReader) ReadAt(p []byte, off int64) (int, error) { return len(p), nil }
func (f *fakeReader) Close() error                            { f.closed = true; return nil }

func newFakePool(capacity int) (*ReaderPool, *int) {
	created := 0
	pool := NewReaderPool(capacity, func() (PooledReader, error) {
		created++
		return &fakeReader{}, nil
	})
	return pool, &created
}

func TestPoolCreatesLazily(t *testing.T) {
	pool, created := newFakePool(2)
	defer pool.Close()

	ctx := context.Background()
	a, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	b, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if *created != 2 {
		t.Fatalf("created = %d, want 2", *created)
	}

	pool.Release(a)
	pool.Release(b)
	if _, err := pool.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	if *created != 2 {
		t.Errorf("created = %d, released handles must be reused", *created)
	}
}

func TestPoolBlocksAtCapacity(t *testing.T) {
	pool, _ := newFakePool(1)
	defer pool.Close()

	r, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pool.Acquire(cancelled); !errors.Is(err, context.Canceled) {
		t.Errorf("exhausted pool with cancelled context: err = %v", err)
	}

	pool.Release(r)
	if _, err := pool.Acquire(context.Background()); err != nil {
		t.Errorf("acquire after release: %v", err)
	}
}

func TestPoolClose(t *testing.T) {
	pool, _ := newFakePool(1)

	r, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	held := r.(*fakeReader)

	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Acquire(context.Background()); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("acquire after close: err = %v", err)
	}

	// A handle released after close is closed, not pooled.
	pool.Release(r)
	if !held.closed {
		t.Error("handle released after close must be closed")
	}
}

func TestPoolConcurrentReleaseAndClose(t *testing.T) {
	// Handles released while the pool shuts down must either be pooled
	// and drained by Close or closed directly, never panic.
	for i := 0; i < 100; i++ {
		pool, _ := newFakePool(4)

		handles := make([]PooledReader, 4)
		for j := range handles {
			r, err := pool.Acquire(context.Background())
			if err != nil {
				t.Fatal(err)
			}
			handles[j] = r
		}

		var wg sync.WaitGroup
		for _, r := range handles {
			wg.Add(1)
			go func(r PooledReader) {
				defer wg.Done()
				pool.Release(r)
			}(r)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			pool.Close()
		}()
		wg.Wait()

		for _, r := range handles {
			if !r.(*fakeReader).closed {
				// Released before Close: drained from the idle queue.
				// Released after: closed directly. Both end closed.
				t.Fatal("handle not closed after shutdown")
			}
		}
	}
}

func TestPoolFactoryErrorFreesSlot(t *testing.T) {
	fail := true
	pool := NewReaderPool(1, func() (PooledReader, error) {
		if fail {
			return nil, errors.New("no handles")
		}
		return &fakeReader{}, nil
	})
	defer pool.Close()

	if _, err := pool.Acquire(context.Background()); err == nil {
		t.Fatal("expected factory error")
	}
	fail = false
	if _, err := pool.Acquire(context.Background()); err != nil {
		t.Errorf("slot not freed after factory error: %v", err)
	}
}
