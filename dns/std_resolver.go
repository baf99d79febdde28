package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// StdResolver implements HostResolver using the standard library net
// package (nsswitch-aware: /etc/hosts, resolv.conf, etc).
type StdResolver struct {
	resolver *net.Resolver
}

// NewStdResolver creates a resolver using the standard library.
func NewStdResolver() *StdResolver {
	return &StdResolver{resolver: net.DefaultResolver}
}

// NewStdResolverWithDialer creates a resolver with a custom dialer,
// which allows pointing lookups at specific DNS servers.
func NewStdResolverWithDialer(dial func(ctx context.Context, network, address string) (net.Conn, error)) *StdResolver {
	return &StdResolver{
		resolver: &net.Resolver{
			PreferGo: true,
			Dial:     dial,
		},
	}
}

// LookupIP resolves A and AAAA records for host. The result slice is
// copied out of the resolver's control before returning.
func (r *StdResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	ips, err := r.resolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, convertError(err)
	}
	if len(ips) == 0 {
		return nil, ErrNotFound
	}

	out := make([]net.IP, len(ips))
	for i, ip := range ips {
		out[i] = append(net.IP(nil), ip...)
	}
	return out, nil
}

// convertError maps standard library DNS errors onto package errors.
func convertError(err error) error {
	if err == nil {
		return nil
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		if dnsErr.IsNotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, dnsErr.Name)
		}
		if dnsErr.IsTimeout || dnsErr.IsTemporary {
			return fmt.Errorf("%w: %s", ErrTemporary, dnsErr.Name)
		}
	}

	return fmt.Errorf("dns lookup failed: %w", err)
}
