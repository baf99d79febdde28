// Package dns resolves daemon hostnames to candidate address sets.
//
// Two implementations are provided: StdResolver delegates to the
// standard library resolver, and Resolver queries configured
// nameservers directly via github.com/miekg/dns. MockResolver serves
// tests. All of them classify failures into the three causes callers
// act on: name not found, temporary failure, and system error.
package dns

import (
	"context"
	"errors"
	"net"
)

var (
	// ErrNotFound means the name does not exist (NXDOMAIN or no
	// address records).
	ErrNotFound = errors.New("dns: host not found")

	// ErrTemporary means the lookup failed in a way that may succeed
	// if retried later (SERVFAIL, timeout).
	ErrTemporary = errors.New("dns: temporary lookup failure")
)

// HostResolver resolves a hostname to an ordered set of candidate
// addresses. Implementations must return a slice owned by the caller:
// no internal buffer of the resolving machinery may be aliased, since
// later calls can invalidate it.
type HostResolver interface {
	LookupIP(ctx context.Context, host string) ([]net.IP, error)
}

// IsNotFound reports whether err classifies as a nonexistent name.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsTemporary reports whether err classifies as a retryable failure.
func IsTemporary(err error) bool {
	return errors.Is(err, ErrTemporary)
}
