package asyncmc

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/asyncmc/asyncmc/meta"
)

// errPeerClosed is the reader's internal marker for a clean EOF observed
// between responses. It never escapes to callers.
var errPeerClosed = errors.New("peer closed")

type connState int

const (
	stateInitial connState = iota
	stateRunning
	stateFinished
)

// Conn is a single connection to a memcached server.
//
// A Conn starts out idle: NewConn does no I/O. Run dials the server and
// drives the connection until a fatal error, a clean peer close, or Close.
// Commands may be submitted from any goroutine, before or after Run has
// been called; they are serialized onto the wire in submission order and
// each caller receives exactly the response to its own request (the meta
// protocol correlates purely by position).
//
// The lifecycle is one-way:
//
//	Initial --Run--> Running --EOF/error/Close--> Finished
//	   |                                             ^
//	   +------------------Close----------------------+
//
// Once Finished, every outstanding and subsequent submission fails with
// ErrConnectionShutdown. A Conn is not reusable; dial a new one.
type Conn struct {
	addr string
	cfg  connConfig

	queue *submitQueue

	mu       sync.Mutex
	state    connState
	started  bool
	netConn  net.Conn
	closeErr error
	onClose  []func(error)

	// ready is closed when the connection enters Running,
	// done when it enters Finished.
	ready chan struct{}
	done  chan struct{}

	// lastEvent carries the idle event from nextPending to idleResult.
	// Touched only by the driver goroutine.
	lastEvent result
}

// NewConn creates a connection handle for the given "host:port" address.
// It does no I/O; call Run to connect and serve.
func NewConn(addr string, opts ...Option) *Conn {
	cfg := defaultConnConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Conn{
		addr:  addr,
		cfg:   cfg,
		queue: newSubmitQueue(),
		ready: make(chan struct{}),
		done:  make(chan struct{}),
	}
}

// Addr returns the server address.
func (c *Conn) Addr() string {
	return c.addr
}

// Run connects and serves submitted requests until the connection
// terminates. It returns nil on a clean shutdown (Close, or the peer
// closing the connection between requests) and the fatal error otherwise.
// Calling Run on a connection that is not in its initial state fails with
// ErrConnectionShutdown.
func (c *Conn) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateInitial || c.started {
		c.mu.Unlock()
		return shutdownError(nil, "connection is not in its initial state")
	}
	c.started = true
	c.mu.Unlock()

	netConn, err := c.dialServer(ctx)
	if err != nil {
		err = shutdownError(err, "dial "+c.addr)
		c.finish(err)
		return err
	}

	c.mu.Lock()
	if c.state == stateFinished {
		// Close raced the dial.
		c.mu.Unlock()
		netConn.Close()
		return nil
	}
	c.netConn = netConn
	c.state = stateRunning
	c.mu.Unlock()
	close(c.ready)

	c.cfg.logger.Debug("connection running",
		zap.String("addr", c.addr), zap.String("id", c.cfg.id))

	err = c.serve(ctx, netConn)
	c.finish(err)
	return err
}

func (c *Conn) dialServer(ctx context.Context) (net.Conn, error) {
	if c.cfg.dial != nil {
		return c.cfg.dial(ctx, c.addr)
	}
	return c.cfg.dialer.DialContext(ctx, "tcp", c.addr)
}

// serve is the driver loop: take one request, write it, await exactly one
// response, resume the caller. A reader goroutine owns the socket's read
// side and the decoder; it hands completed responses (or the terminal
// read error) to the driver, which keeps the pairing strictly FIFO.
func (c *Conn) serve(ctx context.Context, netConn net.Conn) error {
	respCh := make(chan result)
	go c.readLoop(netConn, respCh)

	writeBuf := meta.NewBuffer(256)
	for {
		p, ok := c.nextPending(ctx, respCh)
		if !ok {
			return c.idleResult()
		}

		writeBuf.Reset()
		p.req.EncodeTo(writeBuf)
		if _, err := netConn.Write(writeBuf.Bytes()); err != nil {
			err = shutdownError(err, "write")
			p.complete(result{err: err})
			return err
		}

		select {
		case r := <-respCh:
			if r.err != nil {
				err := r.err
				if errors.Is(err, errPeerClosed) {
					err = shutdownError(nil, "connection closed by peer while awaiting a response")
				}
				p.complete(result{err: err})
				return err
			}
			p.complete(r)

		case <-c.done:
			p.complete(result{err: shutdownError(nil, "connection closed")})
			return nil

		case <-ctx.Done():
			err := shutdownError(ctx.Err(), "run cancelled")
			p.complete(result{err: err})
			return err
		}
	}
}

// nextPending blocks until a request is queued. ok is false when the
// connection must stop first: socket activity while idle, Close, or
// context cancellation; the caller consults idleResult / lastEvent.
func (c *Conn) nextPending(ctx context.Context, respCh chan result) (pending, bool) {
	for {
		if p, ok := c.queue.pop(); ok {
			return p, true
		}
		select {
		case <-c.queue.signal:
		case r := <-respCh:
			c.lastEvent = r
			return pending{}, false
		case <-c.done:
			c.lastEvent = result{}
			return pending{}, false
		case <-ctx.Done():
			c.lastEvent = result{err: shutdownError(ctx.Err(), "run cancelled")}
			return pending{}, false
		}
	}
}

// readLoop reads the socket, feeds the decoder, and forwards completed
// responses. Unless the connection has already finished, it sends exactly
// one terminal result (an error, or errPeerClosed for a clean EOF between
// responses) before exiting.
func (c *Conn) readLoop(netConn net.Conn, respCh chan result) {
	send := func(r result) bool {
		select {
		case respCh <- r:
			return true
		case <-c.done:
			return false
		}
	}

	dec := meta.NewDecoder()
	scratch := make([]byte, 4096)
	for {
		n, err := netConn.Read(scratch)
		if n > 0 {
			dec.Feed(scratch[:n])
			for {
				resp, derr := dec.Next()
				if errors.Is(derr, meta.ErrIncomplete) {
					break
				}
				if derr != nil {
					send(result{err: protocolError("decode response: %v", derr)})
					return
				}
				if !send(result{resp: resp}) {
					return
				}
			}
		}
		if err != nil {
			switch {
			case errors.Is(err, io.EOF) && dec.Idle():
				send(result{err: errPeerClosed})
			case errors.Is(err, io.EOF):
				send(result{err: shutdownError(nil, "connection closed by peer mid-response")})
			default:
				send(result{err: shutdownError(err, "read")})
			}
			return
		}
	}
}

// idleResult classifies the event that interrupted an idle driver.
func (c *Conn) idleResult() error {
	r := c.lastEvent
	c.lastEvent = result{}
	switch {
	case r.resp != nil:
		return protocolError("unsolicited %s response with no request in flight", r.resp.Status)
	case errors.Is(r.err, errPeerClosed):
		return nil // clean close between requests
	default:
		return r.err // nil for Close, the fatal error otherwise
	}
}

// submit enqueues a request and waits for its reply. A cancelled context
// abandons the wait but not the request: the driver still writes it and
// completes the detached reply slot, preserving the FIFO pairing for
// every later request.
func (c *Conn) submit(ctx context.Context, req *meta.Request) (*meta.Response, error) {
	p := pending{req: req, reply: make(chan result, 1)}
	if !c.queue.push(p) {
		return nil, shutdownError(c.Err(), "connection closed")
	}

	select {
	case r := <-p.reply:
		return r.resp, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close transitions the connection to its terminal state. Pending and
// future submissions fail with ErrConnectionShutdown. Close is idempotent
// and safe from any goroutine.
func (c *Conn) Close() error {
	c.finish(nil)
	return nil
}

// OnClose registers fn to run when the connection reaches its terminal
// state. fn receives the fatal error, or nil after a clean shutdown. If
// the connection is already finished, fn runs immediately.
func (c *Conn) OnClose(fn func(error)) {
	c.mu.Lock()
	if c.state == stateFinished {
		reason := c.closeErr
		c.mu.Unlock()
		fn(reason)
		return
	}
	c.onClose = append(c.onClose, fn)
	c.mu.Unlock()
}

// Closed reports whether the connection has reached its terminal state.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateFinished
}

// Err returns the reason the connection finished: nil while running or
// after a clean shutdown, the fatal error otherwise.
func (c *Conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeErr
}

// Done returns a channel closed when the connection finishes.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// WaitReady blocks until the connection is running, or fails if it
// finished (or the context expired) first. Useful when Run is spawned on
// its own goroutine.
func (c *Conn) WaitReady(ctx context.Context) error {
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		return shutdownError(c.Err(), "connection closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finish performs the one-way transition to Finished: record the reason,
// close the socket, fail everything queued, notify OnClose observers.
func (c *Conn) finish(reason error) {
	c.mu.Lock()
	if c.state == stateFinished {
		c.mu.Unlock()
		return
	}
	c.state = stateFinished
	c.closeErr = reason
	netConn := c.netConn
	c.netConn = nil
	callbacks := c.onClose
	c.onClose = nil
	c.mu.Unlock()

	close(c.done)
	if netConn != nil {
		netConn.Close()
	}

	for _, p := range c.queue.close() {
		p.complete(result{err: shutdownError(reason, "connection closed")})
	}

	c.cfg.logger.Debug("connection finished",
		zap.String("addr", c.addr), zap.String("id", c.cfg.id), zap.Error(reason))

	for _, fn := range callbacks {
		fn(reason)
	}
}
