package asyncmc

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"
)

// connConfig collects everything NewConn can be parameterized with.
type connConfig struct {
	dialer *net.Dialer
	logger *zap.Logger
	clock  func() time.Time
	id     string

	// dial overrides the dialer, for testing purposes only.
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

func defaultConnConfig() connConfig {
	return connConfig{
		dialer: &net.Dialer{},
		logger: zap.NewNop(),
		clock:  time.Now,
	}
}

// Option configures a connection.
type Option func(*connConfig)

// WithDialer sets the net.Dialer used to establish the TCP connection.
func WithDialer(d *net.Dialer) Option {
	return func(c *connConfig) { c.dialer = d }
}

// WithLogger sets a logger for connection lifecycle events. The default
// logger discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(c *connConfig) { c.logger = l }
}

// WithID tags the connection in log output.
func WithID(id string) Option {
	return func(c *connConfig) { c.id = id }
}

// WithClock overrides the wall clock used for TTL conversion.
func WithClock(clock func() time.Time) Option {
	return func(c *connConfig) { c.clock = clock }
}

// withDialFunc replaces the dial step entirely, for testing purposes only.
func withDialFunc(dial func(ctx context.Context, addr string) (net.Conn, error)) Option {
	return func(c *connConfig) { c.dial = dial }
}
