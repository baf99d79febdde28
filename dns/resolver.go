package dns

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	mdns "github.com/miekg/dns"
)

// ResolverConfig contains configuration for the direct DNS resolver.
type ResolverConfig struct {
	// Nameservers is a list of DNS servers to query (e.g. "8.8.8.8:53").
	// If empty, servers from /etc/resolv.conf are used, falling back to
	// public DNS.
	Nameservers []string

	// Timeout is the timeout for individual DNS queries. Default 5s.
	Timeout time.Duration

	// Retries is the number of retries for failed queries. Default 2.
	Retries int
}

// Resolver implements HostResolver by querying nameservers directly
// via github.com/miekg/dns, rotating through them on failure.
type Resolver struct {
	config ResolverConfig
	client *mdns.Client
}

// NewResolver creates a direct DNS resolver.
func NewResolver(config ResolverConfig) *Resolver {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}
	if config.Retries == 0 {
		config.Retries = 2
	}
	if len(config.Nameservers) == 0 {
		config.Nameservers = getSystemNameservers()
	}

	return &Resolver{
		config: config,
		client: &mdns.Client{
			Timeout: config.Timeout,
		},
	}
}

// getSystemNameservers tries to get system DNS servers from resolv.conf.
func getSystemNameservers() []string {
	config, err := mdns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil || len(config.Servers) == 0 {
		return []string{"8.8.8.8:53", "1.1.1.1:53"}
	}

	servers := make([]string, 0, len(config.Servers))
	for _, s := range config.Servers {
		if !strings.Contains(s, ":") {
			s = s + ":53"
		}
		servers = append(servers, s)
	}
	return servers
}

func ensureAbsolute(name string) string {
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}

// query performs one DNS query with retries across nameservers.
func (r *Resolver) query(ctx context.Context, name string, qtype uint16) (*mdns.Msg, error) {
	m := new(mdns.Msg)
	m.SetQuestion(ensureAbsolute(name), qtype)
	m.RecursionDesired = true

	var lastErr error
	for i := 0; i <= r.config.Retries; i++ {
		for _, server := range r.config.Nameservers {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTemporary, err)
			}

			resp, _, err := r.client.ExchangeContext(ctx, m, server)
			if err != nil {
				lastErr = fmt.Errorf("%w: %v", ErrTemporary, err)
				continue
			}

			switch resp.Rcode {
			case mdns.RcodeSuccess:
				return resp, nil
			case mdns.RcodeNameError:
				return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
			case mdns.RcodeServerFailure, mdns.RcodeRefused:
				lastErr = fmt.Errorf("%w: rcode %s from %s",
					ErrTemporary, mdns.RcodeToString[resp.Rcode], server)
				continue
			default:
				lastErr = fmt.Errorf("dns: unexpected rcode %d", resp.Rcode)
				continue
			}
		}
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrTemporary
}

// LookupIP resolves A and AAAA records for host. Addresses are copied
// out of the DNS message before return.
func (r *Resolver) LookupIP(ctx context.Context, host string) ([]net.IP, error) {
	var ips []net.IP
	var lastErr error

	resp, err := r.query(ctx, host, mdns.TypeA)
	if err != nil && !IsNotFound(err) {
		lastErr = err
	} else if resp != nil {
		for _, rr := range resp.Answer {
			if a, ok := rr.(*mdns.A); ok {
				ips = append(ips, append(net.IP(nil), a.A...))
			}
		}
	}

	resp, err = r.query(ctx, host, mdns.TypeAAAA)
	if err != nil && !IsNotFound(err) {
		if lastErr == nil {
			lastErr = err
		}
	} else if resp != nil {
		for _, rr := range resp.Answer {
			if aaaa, ok := rr.(*mdns.AAAA); ok {
				ips = append(ips, append(net.IP(nil), aaaa.AAAA...))
			}
		}
	}

	if len(ips) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, host)
	}

	return ips, nil
}

// Config returns the resolver's current configuration.
func (r *Resolver) Config() ResolverConfig {
	return r.config
}
