package plcpool

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cerr "github.com/tturner/cipsession/internal/errors"
	"github.com/tturner/cipsession/internal/plcconn"
	"github.com/tturner/cipsession/internal/plcsim"
)

func newTestPool(t *testing.T, capacity int) (*Pool, *plcsim.Server) {
	t.Helper()
	sim, err := plcsim.New("127.0.0.1:0", plcsim.Options{}, nil)
	if err != nil {
		t.Fatalf("start simulator: %v", err)
	}
	t.Cleanup(sim.Close)

	pool := New(sim.Host(), sim.Port(), capacity, nil, nil)
	pool.SetDial(func() *plcconn.Connection {
		conn := plcconn.NewConnection(sim.Host(), sim.Port(), nil)
		conn.SetIOTimeout(500 * time.Millisecond)
		return conn
	})
	t.Cleanup(func() { pool.Drain(context.Background()) })
	return pool, sim
}

func TestAcquireOpensLazily(t *testing.T) {
	pool, _ := newTestPool(t, 2)

	lease, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lease.Conn.State() != plcconn.StateRegistered {
		t.Fatalf("state: got %s", lease.Conn.State())
	}
	lease.Release(context.Background())
}

func TestAtMostCapacityConcurrentLeases(t *testing.T) {
	pool, _ := newTestPool(t, 2)

	var current, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			lease, err := pool.Acquire(ctx)
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			n := atomic.AddInt64(&current, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&current, -1)
			lease.Release(ctx)
		}()
	}
	wg.Wait()

	if peak > 2 {
		t.Fatalf("observed %d concurrent leases on a pool of 2", peak)
	}
}

func TestBrokenLeaseNeverReappears(t *testing.T) {
	pool, _ := newTestPool(t, 1)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	broken := lease.Conn
	broken.MarkBroken()
	lease.Release(ctx)

	lease2, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire after broken release: %v", err)
	}
	defer lease2.Release(ctx)

	if lease2.Conn == broken {
		t.Fatalf("broken connection reappeared from the pool")
	}
	if lease2.Conn.State() != plcconn.StateRegistered {
		t.Fatalf("replacement state: got %s", lease2.Conn.State())
	}
}

func TestAcquireDeadline(t *testing.T) {
	pool, _ := newTestPool(t, 1)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer lease.Release(ctx)

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = pool.Acquire(waitCtx)
	if !stderrors.Is(err, cerr.KindKey(cerr.KindPoolTimeout)) {
		t.Fatalf("expected PoolTimeout, got %v", err)
	}
}

func TestFirstWaiterFirstServed(t *testing.T) {
	pool, _ := newTestPool(t, 1)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	order := make(chan int, 2)
	ready := make(chan struct{}, 2)
	for i := 1; i <= 2; i++ {
		i := i
		go func() {
			ready <- struct{}{}
			l, err := pool.Acquire(ctx)
			if err != nil {
				t.Errorf("waiter %d: %v", i, err)
				return
			}
			order <- i
			time.Sleep(20 * time.Millisecond)
			l.Release(ctx)
		}()
		<-ready
		// Give the waiter time to enqueue before starting the next one.
		time.Sleep(50 * time.Millisecond)
	}

	lease.Release(ctx)
	if first := <-order; first != 1 {
		t.Fatalf("waiter %d served first, want 1", first)
	}
	if second := <-order; second != 2 {
		t.Fatalf("waiter %d served second, want 2", second)
	}
}

func TestDrainRejectsAcquire(t *testing.T) {
	pool, _ := newTestPool(t, 2)
	ctx := context.Background()

	lease, err := pool.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	lease.Release(ctx)

	pool.Drain(ctx)
	_, err = pool.Acquire(ctx)
	if !stderrors.Is(err, cerr.KindKey(cerr.KindPoolClosed)) {
		t.Fatalf("expected PoolClosed, got %v", err)
	}
}
