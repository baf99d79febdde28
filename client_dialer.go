package shrike

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"syscall"
	"time"

	"github.com/synqronlabs/shrike/dns"
)

// Dialer establishes a Transport to the daemon, rotating through the
// resolved candidate addresses with bounded retry. The daemon is often
// multi-homed or DNS round-robined; rotating raises the odds of
// reaching a healthy instance instead of hammering one dead address.
type Dialer struct {
	Host           string
	Port           int
	SocketPath     string
	TLSConfig      *tls.Config
	MaxRetries     int
	RetryDelay     time.Duration
	ConnectTimeout time.Duration
	Resolver       dns.HostResolver
	Logger         *slog.Logger
}

// NewDialer builds a Dialer from a client configuration.
func NewDialer(cfg *ClientConfig) *Dialer {
	cfg = cfg.withDefaults()
	return &Dialer{
		Host:           cfg.Host,
		Port:           cfg.Port,
		SocketPath:     cfg.SocketPath,
		TLSConfig:      cfg.TLSConfig,
		MaxRetries:     cfg.MaxRetries,
		RetryDelay:     cfg.RetryDelay,
		ConnectTimeout: cfg.ConnectTimeout,
		Resolver:       cfg.Resolver,
		Logger:         cfg.Logger,
	}
}

// DialContext connects to the daemon and returns the transport selected
// by configuration (plain, Unix socket, or TLS).
func (d *Dialer) DialContext(ctx context.Context) (Transport, error) {
	if d.SocketPath != "" {
		return d.dialUnix(ctx)
	}

	addrs, err := d.resolve(ctx)
	if err != nil {
		return nil, err
	}

	conn, err := d.connect(ctx, addrs)
	if err != nil {
		return nil, err
	}

	if d.TLSConfig != nil {
		cfg := d.TLSConfig
		if cfg.ServerName == "" {
			cfg = cfg.Clone()
			cfg.ServerName = d.Host
		}
		return NewTLSStream(ctx, conn, cfg)
	}
	return NewStream(conn), nil
}

// resolve produces the ordered candidate address set for Host. Address
// literals bypass the resolver.
func (d *Dialer) resolve(ctx context.Context) ([]net.IP, error) {
	if ip := net.ParseIP(d.Host); ip != nil {
		return []net.IP{ip}, nil
	}

	ips, err := d.Resolver.LookupIP(ctx, d.Host)
	if err != nil {
		switch {
		case dns.IsNotFound(err):
			return nil, wrapErr(CodeNoHost, err, "resolving %s", d.Host)
		case dns.IsTemporary(err):
			return nil, wrapErr(CodeTempFail, err, "resolving %s", d.Host)
		default:
			return nil, wrapErr(CodeOSErr, err, "resolving %s", d.Host)
		}
	}
	return ips, nil
}

// connect rotates through addrs, one fresh dial per attempt. The
// terminal classification always comes from the last attempt's cause;
// a zero-attempt configuration is rejected up front rather than left
// to classify an error that never happened.
func (d *Dialer) connect(ctx context.Context, addrs []net.IP) (net.Conn, error) {
	if len(addrs) == 0 || d.MaxRetries <= 0 {
		return nil, statusErr(CodeSoftware, "no connect attempts configured")
	}

	nd := net.Dialer{Timeout: d.ConnectTimeout}
	var lastErr error
	for attempt := 0; attempt < d.MaxRetries; attempt++ {
		addr := net.JoinHostPort(addrs[attempt%len(addrs)].String(), strconv.Itoa(d.Port))

		conn, err := nd.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			// The call deadline expired, not the peer.
			return nil, wrapErr(CodeIOErr, lastErr, "deadline expired while connecting")
		}

		d.Logger.Warn("connect to daemon failed, retrying",
			slog.String("addr", addr),
			slog.Int("attempt", attempt+1),
			slog.Int("max", d.MaxRetries),
			slog.Any("error", err))

		if attempt+1 < d.MaxRetries {
			select {
			case <-ctx.Done():
				return nil, wrapErr(CodeIOErr, lastErr, "deadline expired while connecting")
			case <-time.After(d.RetryDelay):
			}
		}
	}

	return nil, classifyDial(lastErr)
}

func (d *Dialer) dialUnix(ctx context.Context) (Transport, error) {
	nd := net.Dialer{Timeout: d.ConnectTimeout}
	conn, err := nd.DialContext(ctx, "unix", d.SocketPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, wrapErr(CodeIOErr, err, "deadline expired while connecting")
		}
		return nil, classifyDial(err)
	}
	return NewStream(conn), nil
}

// classifyDial maps a terminal connect failure onto the outcome
// taxonomy.
func classifyDial(err error) error {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ETIMEDOUT),
		errors.Is(err, syscall.ENETUNREACH),
		errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENOENT),
		isTimeout(err):
		return wrapErr(CodeUnavailable, err, "daemon unreachable")
	case errors.Is(err, syscall.EACCES), errors.Is(err, syscall.EPERM):
		return wrapErr(CodeNoPerm, err, "connect not permitted")
	case errors.Is(err, syscall.ENFILE),
		errors.Is(err, syscall.EMFILE),
		errors.Is(err, syscall.ENOBUFS),
		errors.Is(err, syscall.ENOMEM):
		return wrapErr(CodeOSErr, err, "connect failed")
	default:
		return wrapErr(CodeSoftware, err, "connect failed")
	}
}
