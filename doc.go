// Package asyncmc is an asynchronous client for memcached servers speaking
// the meta text protocol (mg, ms, md, ma).
//
// The building block is Conn, a single pipelined connection driven by one
// goroutine: commands may be submitted concurrently from any goroutine,
// are written to the wire strictly in submission order, and each caller
// receives exactly the reply to its own request. Pool keeps a set of
// running connections to one server; Client distributes keys over several
// servers with consistent hashing and optional per-server circuit
// breakers.
//
// Basic usage:
//
//	conn := asyncmc.NewConn("127.0.0.1:11211")
//	go conn.Run(context.Background())
//
//	err := conn.Set(ctx, "greeting", asyncmc.String("hello"), asyncmc.TTLIndefinite)
//
//	var s asyncmc.String
//	found, err := conn.Get(ctx, "greeting", &s)
//
// Command and connection errors wrap one of four sentinel kinds
// (ErrConnectionShutdown, ErrProtocol, ErrKeyNotFound, ErrKeyExists); test
// with errors.Is. A cancelled caller context surfaces as ctx.Err(). I/O and
// protocol failures are fatal to the connection, semantic failures are
// not.
package asyncmc
