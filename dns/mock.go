package dns

import (
	"context"
	"fmt"
	"net"
	"slices"
)

// MockResolver is a HostResolver for testing. Hosts maps hostnames to
// address literals; names listed in Fail return a temporary error.
type MockResolver struct {
	Hosts map[string][]string
	Fail  []string
}

var _ HostResolver = MockResolver{}

// LookupIP returns the configured addresses for host.
func (r MockResolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTemporary, err)
	}

	if slices.Contains(r.Fail, host) {
		return nil, fmt.Errorf("%w: %s", ErrTemporary, host)
	}

	addrs, ok := r.Hosts[host]
	if !ok || len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, host)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		if ip := net.ParseIP(a); ip != nil {
			ips = append(ips, ip)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, host)
	}
	return ips, nil
}
