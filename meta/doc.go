// Package meta implements the wire codec for the memcached meta text
// protocol (mg, ms, md, ma).
//
// The package is transport-agnostic: Request.EncodeTo serializes requests
// into a Buffer, and Decoder turns an arbitrary-chunked inbound byte stream
// into Response values. Connection handling, command semantics, and error
// taxonomy live in the parent package.
//
// Protocol reference: https://github.com/memcached/memcached/blob/master/doc/protocol.txt
package meta
