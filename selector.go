package asyncmc

import (
	"github.com/zeebo/xxh3"

	"github.com/asyncmc/asyncmc/internal"
)

// ServerSelector picks which server index serves a given key.
type ServerSelector func(key string, serverCount int) int

// DefaultServerSelector hashes the key with xxh3 and places it with Jump
// consistent hashing, so adding or removing a server only moves ~1/n of
// the keyspace.
func DefaultServerSelector(key string, serverCount int) int {
	return internal.JumpHash(xxh3.HashString(key), serverCount)
}

// staticSelector is used in tests to pin all keys to one server.
func staticSelector(index int) ServerSelector {
	return func(key string, serverCount int) int {
		return index % serverCount
	}
}
