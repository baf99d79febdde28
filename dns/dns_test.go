package dns

import (
	"context"
	"net"
	"testing"
	"time"

	mdns "github.com/miekg/dns"
)

func TestMockResolver(t *testing.T) {
	r := MockResolver{
		Hosts: map[string][]string{
			"scanner.test": {"192.0.2.1", "192.0.2.2"},
			"garbage.test": {"not-an-ip"},
		},
		Fail: []string{"flaky.test"},
	}
	ctx := context.Background()

	ips, err := r.LookupIP(ctx, "scanner.test")
	if err != nil {
		t.Fatalf("LookupIP failed: %v", err)
	}
	if len(ips) != 2 || !ips[0].Equal(net.ParseIP("192.0.2.1")) {
		t.Errorf("LookupIP = %v, want the two configured addresses", ips)
	}

	if _, err := r.LookupIP(ctx, "unknown.test"); !IsNotFound(err) {
		t.Errorf("unknown host error = %v, want not-found", err)
	}
	if _, err := r.LookupIP(ctx, "garbage.test"); !IsNotFound(err) {
		t.Errorf("unparsable host error = %v, want not-found", err)
	}
	if _, err := r.LookupIP(ctx, "flaky.test"); !IsTemporary(err) {
		t.Errorf("failing host error = %v, want temporary", err)
	}
}

func TestConvertError(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		notFnd  bool
		tempErr bool
	}{
		{"not found", &net.DNSError{Name: "x.test", IsNotFound: true}, true, false},
		{"timeout", &net.DNSError{Name: "x.test", IsTimeout: true}, false, true},
		{"temporary", &net.DNSError{Name: "x.test", IsTemporary: true}, false, true},
		{"other", &net.DNSError{Name: "x.test"}, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := convertError(tt.err)
			if IsNotFound(got) != tt.notFnd {
				t.Errorf("IsNotFound = %v, want %v", IsNotFound(got), tt.notFnd)
			}
			if IsTemporary(got) != tt.tempErr {
				t.Errorf("IsTemporary = %v, want %v", IsTemporary(got), tt.tempErr)
			}
		})
	}
}

func TestStdResolverCopiesResults(t *testing.T) {
	r := NewStdResolver()
	ips, err := r.LookupIP(context.Background(), "localhost")
	if err != nil {
		t.Skipf("localhost did not resolve: %v", err)
	}
	if len(ips) == 0 {
		t.Fatal("LookupIP returned no addresses")
	}
	// Mutating the returned slice must not be able to corrupt anything
	// the resolver holds; at minimum each IP is a fresh allocation.
	for i := range ips {
		for j := range ips[i] {
			ips[i][j] = 0xff
		}
	}
}

func TestEnsureAbsolute(t *testing.T) {
	if got := ensureAbsolute("scanner.test"); got != "scanner.test." {
		t.Errorf("ensureAbsolute = %q", got)
	}
	if got := ensureAbsolute("scanner.test."); got != "scanner.test." {
		t.Errorf("ensureAbsolute left absolute name as %q", got)
	}
}

func TestNewResolverDefaults(t *testing.T) {
	r := NewResolver(ResolverConfig{})
	cfg := r.Config()
	if cfg.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", cfg.Timeout)
	}
	if cfg.Retries != 2 {
		t.Errorf("Retries = %d, want 2", cfg.Retries)
	}
	if len(cfg.Nameservers) == 0 {
		t.Error("Nameservers is empty, want system servers or fallback")
	}
}

// localNameserver runs an in-process DNS server with a fixed zone.
func localNameserver(t *testing.T) string {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket failed: %v", err)
	}

	srv := &mdns.Server{
		PacketConn: pc,
		Handler: mdns.HandlerFunc(func(w mdns.ResponseWriter, req *mdns.Msg) {
			m := new(mdns.Msg)
			m.SetReply(req)
			q := req.Question[0]
			switch {
			case q.Name == "scanner.test." && q.Qtype == mdns.TypeA:
				rr, err := mdns.NewRR("scanner.test. 60 IN A 192.0.2.10")
				if err == nil {
					m.Answer = append(m.Answer, rr)
				}
			case q.Name == "gone.test.":
				m.Rcode = mdns.RcodeNameError
			case q.Name == "flaky.test.":
				m.Rcode = mdns.RcodeServerFailure
			}
			w.WriteMsg(m)
		}),
	}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestResolverLookup(t *testing.T) {
	r := NewResolver(ResolverConfig{
		Nameservers: []string{localNameserver(t)},
		Timeout:     2 * time.Second,
		Retries:     1,
	})
	ctx := context.Background()

	ips, err := r.LookupIP(ctx, "scanner.test")
	if err != nil {
		t.Fatalf("LookupIP failed: %v", err)
	}
	if len(ips) != 1 || !ips[0].Equal(net.ParseIP("192.0.2.10")) {
		t.Errorf("LookupIP = %v, want [192.0.2.10]", ips)
	}

	if _, err := r.LookupIP(ctx, "gone.test"); !IsNotFound(err) {
		t.Errorf("NXDOMAIN error = %v, want not-found", err)
	}
	if _, err := r.LookupIP(ctx, "flaky.test"); !IsTemporary(err) {
		t.Errorf("SERVFAIL error = %v, want temporary", err)
	}
}
