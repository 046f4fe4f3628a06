package asyncmc

import (
	"time"

	"github.com/asyncmc/asyncmc/meta"
)

// TTL expresses how long an item lives. The zero value means the item
// never expires.
type TTL struct {
	expiresAt time.Time
	definite  bool
}

// TTLIndefinite is the no-expiration TTL. It serializes to T0.
var TTLIndefinite = TTL{}

// ExpiresAt returns a TTL that expires at the given instant.
func ExpiresAt(t time.Time) TTL {
	return TTL{expiresAt: t, definite: true}
}

// ExpiresIn returns a TTL that expires after d, measured from now.
func ExpiresIn(d time.Duration) TTL {
	return TTL{expiresAt: time.Now().Add(d), definite: true}
}

// IsIndefinite reports whether the item never expires.
func (t TTL) IsIndefinite() bool {
	return !t.definite
}

// ExpirationTime returns the expiration instant. ok is false for an
// indefinite TTL.
func (t TTL) ExpirationTime() (_ time.Time, ok bool) {
	return t.expiresAt, t.definite
}

// seconds converts the TTL to its wire value, evaluated against now:
//
//	indefinite           -> 0
//	under one second left -> -1 (immediate expiry; 0 would mean "never")
//	within 30 days       -> relative seconds
//	beyond 30 days       -> absolute Unix timestamp (server convention)
func (t TTL) seconds(now time.Time) int64 {
	if !t.definite {
		return 0
	}
	secs := int64(t.expiresAt.Sub(now) / time.Second)
	if secs <= 0 {
		return -1
	}
	if secs <= meta.MaxRelativeTTL {
		return secs
	}
	return t.expiresAt.Unix()
}

// ttlFromServer interprets the remaining-TTL token of a response. The
// server reports -1 for items that never expire; an absent token is
// treated the same way.
func ttlFromServer(remaining *int64, now time.Time) TTL {
	if remaining == nil || *remaining < 0 {
		return TTLIndefinite
	}
	return ExpiresAt(now.Add(time.Duration(*remaining) * time.Second))
}
