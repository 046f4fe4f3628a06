package asyncmc

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// ClientConfig configures a multi-server client.
type ClientConfig struct {
	// MaxPoolSize is the maximum number of connections per server.
	// Required: must be > 0.
	MaxPoolSize int32

	// ConnOptions is applied to every connection.
	ConnOptions []Option

	// Selector picks the server for a key. Defaults to
	// DefaultServerSelector (xxh3 + jump hash).
	Selector ServerSelector

	// NewCircuitBreaker creates a circuit breaker for a server. Called
	// once per server address when its pool is created. If nil, no
	// circuit breaker is used.
	NewCircuitBreaker func(serverAddr string) *CircuitBreaker
}

// serverPool pairs a pool with its optional circuit breaker.
type serverPool struct {
	pool    *Pool
	breaker *CircuitBreaker
}

// Client distributes keys over a set of memcached servers. Each server
// gets a lazily created connection pool; the command surface mirrors Conn.
type Client struct {
	servers  []string
	selector ServerSelector
	config   ClientConfig

	mu     sync.RWMutex
	pools  map[string]*serverPool
	closed bool
}

// NewClient creates a client for the given server addresses.
// For a single server: NewClient([]string{"host:port"}, config).
func NewClient(servers []string, config ClientConfig) (*Client, error) {
	if len(servers) == 0 {
		return nil, errors.New("asyncmc: no servers provided")
	}

	selector := config.Selector
	if selector == nil {
		selector = DefaultServerSelector
	}

	return &Client{
		servers:  servers,
		selector: selector,
		config:   config,
		pools:    make(map[string]*serverPool, len(servers)),
	}, nil
}

// Close closes every server pool. Pending and future commands fail with
// ErrConnectionShutdown.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	for _, sp := range c.pools {
		sp.pool.Close()
	}
	c.pools = nil
}

// Ping verifies that every server can serve a connection. Failures are
// collected so one dead server does not mask another.
func (c *Client) Ping(ctx context.Context) error {
	var merr *multierror.Error
	for _, addr := range c.servers {
		sp, err := c.poolFor(addr)
		if err == nil {
			err = sp.pool.With(ctx, func(*Conn) error { return nil })
		}
		if err != nil {
			merr = multierror.Append(merr, errors.Wrapf(err, "ping %s", addr))
		}
	}
	return merr.ErrorOrNil()
}

// poolForKey returns (lazily creating) the pool of the server owning key.
func (c *Client) poolForKey(key string) (*serverPool, error) {
	return c.poolFor(c.servers[c.selector(key, len(c.servers))])
}

// poolFor returns (lazily creating) the pool for a server address.
func (c *Client) poolFor(addr string) (*serverPool, error) {
	c.mu.RLock()
	sp, ok := c.pools[addr]
	closed := c.closed
	c.mu.RUnlock()
	if ok {
		return sp, nil
	}
	if closed {
		return nil, shutdownError(nil, "client closed")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, shutdownError(nil, "client closed")
	}
	if sp, ok := c.pools[addr]; ok {
		return sp, nil
	}

	pool, err := NewPool(addr, PoolConfig{
		MaxSize:     c.config.MaxPoolSize,
		ConnOptions: c.config.ConnOptions,
	})
	if err != nil {
		return nil, err
	}

	sp = &serverPool{pool: pool}
	if c.config.NewCircuitBreaker != nil {
		sp.breaker = c.config.NewCircuitBreaker(addr)
	}
	c.pools[addr] = sp
	return sp, nil
}

// do runs fn against a connection of the server owning key, wrapped with
// the server's circuit breaker when one is configured. Semantic errors
// (key not found, key exists) pass through without counting as failures.
func (c *Client) do(ctx context.Context, key string, fn func(*Conn) error) error {
	sp, err := c.poolForKey(key)
	if err != nil {
		return err
	}

	if sp.breaker == nil {
		return sp.pool.With(ctx, fn)
	}

	var semantic error
	_, err = sp.breaker.Execute(func() (bool, error) {
		err := sp.pool.With(ctx, fn)
		if errors.Is(err, ErrKeyNotFound) || errors.Is(err, ErrKeyExists) {
			semantic = err
			return true, nil
		}
		return err == nil, err
	})
	if err != nil {
		return err
	}
	return semantic
}

// Get fetches the value stored under key and decodes it into v.
func (c *Client) Get(ctx context.Context, key string, v ValueDecoder) (found bool, err error) {
	err = c.do(ctx, key, func(conn *Conn) error {
		var cerr error
		found, cerr = conn.Get(ctx, key, v)
		return cerr
	})
	return found, err
}

// GetWithTTL is Get plus the item's remaining time-to-live.
func (c *Client) GetWithTTL(ctx context.Context, key string, v ValueDecoder) (found bool, ttl TTL, err error) {
	err = c.do(ctx, key, func(conn *Conn) error {
		var cerr error
		found, ttl, cerr = conn.GetWithTTL(ctx, key, v)
		return cerr
	})
	return found, ttl, err
}

// GetAndTouch is Get with a TTL update applied to the item on the way.
func (c *Client) GetAndTouch(ctx context.Context, key string, v ValueDecoder, ttl TTL) (found bool, err error) {
	err = c.do(ctx, key, func(conn *Conn) error {
		var cerr error
		found, cerr = conn.GetAndTouch(ctx, key, v, ttl)
		return cerr
	})
	return found, err
}

// Touch updates the TTL of an existing item without fetching it.
func (c *Client) Touch(ctx context.Context, key string, ttl TTL) error {
	return c.do(ctx, key, func(conn *Conn) error {
		return conn.Touch(ctx, key, ttl)
	})
}

// Set stores v under key unconditionally.
func (c *Client) Set(ctx context.Context, key string, v Value, ttl TTL) error {
	return c.do(ctx, key, func(conn *Conn) error {
		return conn.Set(ctx, key, v, ttl)
	})
}

// Add stores v under key only if the key does not exist yet.
func (c *Client) Add(ctx context.Context, key string, v Value, ttl TTL) error {
	return c.do(ctx, key, func(conn *Conn) error {
		return conn.Add(ctx, key, v, ttl)
	})
}

// Replace stores v under key only if the key already exists.
func (c *Client) Replace(ctx context.Context, key string, v Value, ttl TTL) error {
	return c.do(ctx, key, func(conn *Conn) error {
		return conn.Replace(ctx, key, v, ttl)
	})
}

// Append appends v to the value already stored under key.
func (c *Client) Append(ctx context.Context, key string, v Value) error {
	return c.do(ctx, key, func(conn *Conn) error {
		return conn.Append(ctx, key, v)
	})
}

// Prepend prepends v to the value already stored under key.
func (c *Client) Prepend(ctx context.Context, key string, v Value) error {
	return c.do(ctx, key, func(conn *Conn) error {
		return conn.Prepend(ctx, key, v)
	})
}

// Delete removes the item stored under key.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.do(ctx, key, func(conn *Conn) error {
		return conn.Delete(ctx, key)
	})
}

// Increment adds delta to the numeric value stored under key.
func (c *Client) Increment(ctx context.Context, key string, delta uint64) error {
	return c.do(ctx, key, func(conn *Conn) error {
		return conn.Increment(ctx, key, delta)
	})
}

// Decrement subtracts delta from the numeric value stored under key.
func (c *Client) Decrement(ctx context.Context, key string, delta uint64) error {
	return c.do(ctx, key, func(conn *Conn) error {
		return conn.Decrement(ctx, key, delta)
	})
}
