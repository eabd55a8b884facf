package plcpool

// Fixed-capacity connection pool per PLC endpoint. Connections are built
// lazily, lent out for one exchange at a time, and replaced when broken.

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	cerr "github.com/tturner/cipsession/internal/errors"
	"github.com/tturner/cipsession/internal/logging"
	"github.com/tturner/cipsession/internal/plcconn"
	"github.com/tturner/cipsession/internal/telemetry"
)

// DefaultCapacity is the per-endpoint pool size used when the configuration
// does not override it.
const DefaultCapacity = 2

// Lease is a borrowed connection. Exactly one caller holds a given lease at
// a time; Release must be called exactly once.
type Lease struct {
	Conn *plcconn.Connection

	pool     *Pool
	released bool
}

// Release returns the connection to the pool. Broken connections are closed
// and discarded; their slot frees up for a lazy replacement.
func (l *Lease) Release(ctx context.Context) {
	if l == nil || l.released {
		return
	}
	l.released = true
	l.pool.release(ctx, l.Conn)
}

// Pool is a fixed-capacity set of connections to one endpoint. Acquisition
// is first-waiter-first-served.
type Pool struct {
	host     string
	port     int
	capacity int
	logger   *logging.Logger
	metrics  *telemetry.Metrics
	dial     func() *plcconn.Connection

	mu      sync.Mutex
	idle    []*plcconn.Connection
	total   int
	waiters *list.List
	closed  bool
}

// New creates a pool of up to capacity connections to host:port.
func New(host string, port, capacity int, logger *logging.Logger, metrics *telemetry.Metrics) *Pool {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	p := &Pool{
		host:     host,
		port:     port,
		capacity: capacity,
		logger:   logger,
		metrics:  metrics,
		waiters:  list.New(),
	}
	p.dial = func() *plcconn.Connection {
		return plcconn.NewConnection(host, port, logger)
	}
	return p
}

// SetDial overrides how new connections are constructed. Used by tests to
// point the pool at a simulator with tuned timeouts.
func (p *Pool) SetDial(dial func() *plcconn.Connection) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.dial = dial
}

// Capacity returns the fixed pool capacity.
func (p *Pool) Capacity() int { return p.capacity }

// InUse returns the number of connections currently lent out.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.total - len(p.idle)
}

type waiter struct {
	ready chan *plcconn.Connection
}

// Acquire returns an idle, opened connection, lazily constructing one when a
// slot is free, or blocks until a connection is released. The context
// deadline bounds the wait; on expiry the call fails with PoolTimeout
// without consuming a slot.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, cerr.New(cerr.KindPoolClosed, fmt.Sprintf("pool for %s:%d is closed", p.host, p.port))
		}

		if len(p.idle) > 0 {
			conn := p.idle[0]
			p.idle = p.idle[1:]
			p.mu.Unlock()

			conn, err := p.ensureUsable(ctx, conn)
			if err != nil {
				return nil, err
			}
			p.observeOccupancy()
			return &Lease{Conn: conn, pool: p}, nil
		}

		if p.total < p.capacity {
			p.total++
			p.mu.Unlock()

			conn, err := p.openNew(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				p.wakeOne()
				return nil, err
			}
			p.observeOccupancy()
			return &Lease{Conn: conn, pool: p}, nil
		}

		w := &waiter{ready: make(chan *plcconn.Connection, 1)}
		elem := p.waiters.PushBack(w)
		p.mu.Unlock()

		select {
		case conn := <-w.ready:
			if conn == nil {
				// A slot freed up without a hand-off, or the pool drained;
				// loop back and let the closed check decide.
				continue
			}
			conn, err := p.ensureUsable(ctx, conn)
			if err != nil {
				return nil, err
			}
			p.observeOccupancy()
			return &Lease{Conn: conn, pool: p}, nil
		case <-ctx.Done():
			p.mu.Lock()
			p.waiters.Remove(elem)
			p.mu.Unlock()
			// A release may have raced the cancellation; pass the handed-off
			// connection on rather than leaking the slot.
			select {
			case conn := <-w.ready:
				if conn != nil {
					p.release(ctx, conn)
				}
			default:
			}
			if ctx.Err() == context.DeadlineExceeded {
				return nil, cerr.Wrap(cerr.KindPoolTimeout, fmt.Sprintf("waiting for a connection to %s:%d", p.host, p.port), ctx.Err())
			}
			return nil, cerr.Wrap(cerr.KindCancelled, "pool acquire", ctx.Err())
		}
	}
}

// ensureUsable discards a broken connection and replaces it in place before
// handing it to the caller.
func (p *Pool) ensureUsable(ctx context.Context, conn *plcconn.Connection) (*plcconn.Connection, error) {
	if conn.State() != plcconn.StateBroken && conn.State() != plcconn.StateClosed {
		return conn, nil
	}

	conn.Close(ctx)
	if p.logger != nil {
		p.logger.Verbose("replacing broken connection to %s:%d", p.host, p.port)
	}
	if p.metrics != nil {
		p.metrics.ConnectionReplaced()
	}
	replacement, err := p.openNew(ctx)
	if err != nil {
		p.mu.Lock()
		p.total--
		p.mu.Unlock()
		p.wakeOne()
		return nil, err
	}
	return replacement, nil
}

func (p *Pool) openNew(ctx context.Context) (*plcconn.Connection, error) {
	p.mu.Lock()
	dial := p.dial
	p.mu.Unlock()

	conn := dial()
	if err := conn.Open(ctx); err != nil {
		return nil, err
	}
	return conn, nil
}

func (p *Pool) release(ctx context.Context, conn *plcconn.Connection) {
	broken := conn == nil || conn.State() == plcconn.StateBroken || conn.State() == plcconn.StateClosed

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		if conn != nil {
			conn.Close(ctx)
		}
		return
	}
	if broken {
		p.total--
		p.mu.Unlock()
		if conn != nil {
			conn.Close(ctx)
		}
		if p.metrics != nil {
			p.metrics.ConnectionReplaced()
		}
		p.wakeOne()
		p.observeOccupancy()
		return
	}

	if elem := p.waiters.Front(); elem != nil {
		w := p.waiters.Remove(elem).(*waiter)
		p.mu.Unlock()
		w.ready <- conn
		p.observeOccupancy()
		return
	}

	p.idle = append(p.idle, conn)
	p.mu.Unlock()
	p.observeOccupancy()
}

// wakeOne signals the first waiter that a slot opened up so it can retry
// lazy construction.
func (p *Pool) wakeOne() {
	p.mu.Lock()
	elem := p.waiters.Front()
	if elem == nil {
		p.mu.Unlock()
		return
	}
	w := p.waiters.Remove(elem).(*waiter)
	p.mu.Unlock()

	// nil means "no connection handed off, retry acquisition".
	select {
	case w.ready <- nil:
	default:
	}
}

// Drain closes every connection and rejects subsequent Acquire calls with
// PoolClosed.
func (p *Pool) Drain(ctx context.Context) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.total = 0
	var pending []*waiter
	for elem := p.waiters.Front(); elem != nil; elem = elem.Next() {
		pending = append(pending, elem.Value.(*waiter))
	}
	p.waiters.Init()
	p.mu.Unlock()

	for _, conn := range idle {
		conn.Close(ctx)
	}
	for _, w := range pending {
		select {
		case w.ready <- nil:
		default:
		}
	}
	p.observeOccupancy()
}

func (p *Pool) observeOccupancy() {
	if p.metrics == nil {
		return
	}
	p.mu.Lock()
	inUse := p.total - len(p.idle)
	idle := len(p.idle)
	p.mu.Unlock()
	p.metrics.PoolOccupancy(inUse, idle, p.capacity)
}
