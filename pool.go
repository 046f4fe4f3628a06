package asyncmc

import (
	"context"
	"sync/atomic"

	"github.com/jackc/puddle/v2"
	"github.com/pkg/errors"
)

// PoolConfig configures a connection pool for a single server.
type PoolConfig struct {
	// MaxSize is the maximum number of connections in the pool.
	// Required: must be > 0.
	MaxSize int32

	// ConnOptions is applied to every connection the pool creates.
	ConnOptions []Option
}

// Pool maintains up to MaxSize running connections to one server. Each
// pooled connection has its driver goroutine already started; acquiring
// returns a connection that is ready for commands.
//
// A connection that reached its terminal state is never handed out again:
// With destroys it and the next acquire dials a fresh one.
type Pool struct {
	addr string
	pool *puddle.Pool[*Conn]

	createdConns   atomic.Int64
	destroyedConns atomic.Int64
}

// NewPool creates a pool for the given server address.
func NewPool(addr string, config PoolConfig) (*Pool, error) {
	if config.MaxSize <= 0 {
		return nil, errors.New("asyncmc: pool MaxSize must be > 0")
	}

	p := &Pool{addr: addr}

	poolConfig := &puddle.Config[*Conn]{
		Constructor: func(ctx context.Context) (*Conn, error) {
			conn := NewConn(addr, config.ConnOptions...)
			go conn.Run(context.Background())
			if err := conn.WaitReady(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			p.createdConns.Add(1)
			return conn, nil
		},
		Destructor: func(conn *Conn) {
			p.destroyedConns.Add(1)
			_ = conn.Close()
		},
		MaxSize: config.MaxSize,
	}

	pool, err := puddle.NewPool(poolConfig)
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

// Addr returns the server address the pool dials.
func (p *Pool) Addr() string {
	return p.addr
}

// With runs fn with a pooled connection. Connections that terminated while
// idle are skipped and destroyed; a connection fn leaves in the terminal
// state (fatal I/O or protocol error) is destroyed instead of released.
func (p *Pool) With(ctx context.Context, fn func(*Conn) error) error {
	for {
		res, err := p.pool.Acquire(ctx)
		if err != nil {
			return err
		}

		conn := res.Value()
		if conn.Closed() {
			res.Destroy()
			continue
		}

		err = fn(conn)
		if conn.Closed() {
			res.Destroy()
		} else {
			res.Release()
		}
		return err
	}
}

// Close destroys every connection and marks the pool closed. Outstanding
// acquires fail immediately.
func (p *Pool) Close() {
	p.pool.Close()
}

// PoolStats is a snapshot of pool counters.
type PoolStats struct {
	TotalConns     int32
	IdleConns      int32
	ActiveConns    int32
	AcquireCount   int64
	CreatedConns   int64
	DestroyedConns int64
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() PoolStats {
	s := p.pool.Stat()
	return PoolStats{
		TotalConns:     s.TotalResources(),
		IdleConns:      s.IdleResources(),
		ActiveConns:    s.AcquiredResources(),
		AcquireCount:   s.AcquireCount(),
		CreatedConns:   p.createdConns.Load(),
		DestroyedConns: p.destroyedConns.Load(),
	}
}
