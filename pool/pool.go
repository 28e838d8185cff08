// Package pool implements the front-end connection pool of spec §4.4: a
// per-worker cache of established TCP connections to the issuance engine,
// with checkout/return semantics, lazy expansion up to a configured
// maximum, and transparent replacement of broken connections.
//
// The checkout/return handoff is modeled directly on the teacher's
// exclusive-ownership channel pattern (broker/append_fsm.go's
// replica.pipelineCh): a connection is owned by at most one caller at a
// time, and "returning" it is literally sending it back down a channel for
// the next waiter (or the next idle slot) to receive.
package pool

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// ErrCheckoutTimeout is returned by Checkout when its context is done
// before a connection becomes available — spec §5's "backend-unavailable"
// surfacing, without having consumed any inventory.
var ErrCheckoutTimeout = errors.New("pool: checkout timed out waiting for a connection")

// ErrClosed is returned by Checkout once the Pool has been Closed.
var ErrClosed = errors.New("pool: closed")

// Dialer establishes one new connection to the issuance engine.
type Dialer func(ctx context.Context) (net.Conn, error)

// DialTCP returns a Dialer that connects to |addr| over TCP.
func DialTCP(addr string) Dialer {
	var d net.Dialer
	return func(ctx context.Context) (net.Conn, error) {
		return d.DialContext(ctx, "tcp", addr)
	}
}

// Pool is a fixed-capacity cache of connections. The zero value is not
// usable; construct with New.
type Pool struct {
	dial Dialer
	max  int

	mu          sync.Mutex
	established int // idle + checked-out; always <= max.
	closed      bool

	idle chan idleConn
}

type idleConn struct {
	conn net.Conn
	since time.Time
}

// New returns a Pool that lazily dials |dial| up to |max| concurrent
// connections.
func New(max int, dial Dialer) *Pool {
	if max <= 0 {
		max = 1
	}
	return &Pool{
		dial: dial,
		max:  max,
		idle: make(chan idleConn, max),
	}
}

// Checkout returns a ready connection: an idle one if healthy, a freshly
// dialed one if the pool hasn't yet reached its maximum, or else blocks in
// FIFO order until a connection is returned or |ctx| is done.
func (p *Pool) Checkout(ctx context.Context) (net.Conn, error) {
	for {
		select {
		case ic := <-p.idle:
			if isHealthy(ic.conn) {
				return ic.conn, nil
			}
			p.discard(ic.conn)
			continue
		default:
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrClosed
		}
		if p.established < p.max {
			p.established++
			p.mu.Unlock()

			var conn, err = p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.established--
				p.mu.Unlock()
				return nil, errors.WithMessage(err, "dialing new pool connection")
			}
			return conn, nil
		}
		p.mu.Unlock()

		select {
		case ic := <-p.idle:
			if isHealthy(ic.conn) {
				return ic.conn, nil
			}
			p.discard(ic.conn)
		case <-ctx.Done():
			return nil, ErrCheckoutTimeout
		}
	}
}

// Return gives a connection back to the pool. If |healthy| is false (the
// caller observed an I/O error, malformed reply, or otherwise distrusts the
// connection's framing state), it's closed and discarded instead, freeing
// its slot for a future fresh dial.
func (p *Pool) Return(conn net.Conn, healthy bool) {
	if !healthy {
		p.discard(conn)
		return
	}

	p.mu.Lock()
	var closed = p.closed
	p.mu.Unlock()
	if closed {
		p.discard(conn)
		return
	}

	select {
	case p.idle <- idleConn{conn: conn, since: time.Now()}:
	default:
		// idle is capacity |max| and established never exceeds |max|, so
		// this should be unreachable; guard against it anyway rather than
		// leak the connection.
		p.discard(conn)
	}
}

// discard closes |conn| and frees its established slot.
func (p *Pool) discard(conn net.Conn) {
	_ = conn.Close()
	p.mu.Lock()
	p.established--
	p.mu.Unlock()
}

// Close closes every idle connection and marks the Pool unusable for
// future Checkouts. Connections currently checked out are the caller's
// responsibility to Return (as unhealthy) or close directly.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	var firstErr error
	for {
		select {
		case ic := <-p.idle:
			if err := ic.conn.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
			p.mu.Lock()
			p.established--
			p.mu.Unlock()
		default:
			return firstErr
		}
	}
}

// ReapIdle closes idle connections that have sat unused longer than
// |maxIdle|, in the manner of franz-go's broker.reapConnections: a slow
// background sweep rather than per-checkout bookkeeping. Call it
// periodically from a caller-owned ticker; Pool does not start one itself.
func (p *Pool) ReapIdle(maxIdle time.Duration) {
	var cutoff = time.Now().Add(-maxIdle)
	var keep []idleConn

	for {
		select {
		case ic := <-p.idle:
			if ic.since.Before(cutoff) {
				p.discard(ic.conn)
				log.WithField("idleFor", time.Since(ic.since)).Debug("pool: reaped idle connection")
			} else {
				keep = append(keep, ic)
			}
		default:
			for _, ic := range keep {
				select {
				case p.idle <- ic:
				default: // Shouldn't happen; drop rather than block.
					p.discard(ic.conn)
				}
			}
			return
		}
	}
}

// Stats reports the current pool occupancy, for diagnostics and tests.
type Stats struct {
	Established int
	Idle        int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Established: p.established, Idle: len(p.idle)}
}

// isHealthy performs a non-blocking peek at |conn| to detect whether the
// peer has broken the connection (closed it, reset it, or — erroneously —
// sent unsolicited bytes while idle, which also makes it unsafe to reuse
// since framing state would be corrupted).
func isHealthy(conn net.Conn) bool {
	var buf [1]byte
	_ = conn.SetReadDeadline(time.Now().Add(time.Millisecond))
	var _, err = conn.Read(buf[:])
	_ = conn.SetReadDeadline(time.Time{})

	if err == nil {
		return false
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return false
}
