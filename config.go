package shrike

import (
	"crypto/tls"
	"log/slog"
	"time"

	"github.com/synqronlabs/shrike/dns"
)

// Defaults mirror the daemon's conventional deployment.
const (
	DefaultHost    = "127.0.0.1"
	DefaultPort    = 783
	DefaultMaxSize = 250 * 1024
	DefaultTimeout = 600 * time.Second

	defaultMaxRetries = 3
	defaultRetryDelay = 1 * time.Second
)

// ClientConfig holds configuration for one filter client.
type ClientConfig struct {
	// Host is the daemon hostname or address literal.
	Host string

	// Port is the daemon TCP port.
	Port int

	// SocketPath, when set, connects over a Unix socket instead of TCP.
	SocketPath string

	// TLSConfig, when set, layers TLS over the connection.
	TLSConfig *tls.Config

	// Username is sent as the User request header when non-empty.
	Username string

	// MaxSize bounds the candidate message; a bigger input is returned
	// unprocessed.
	MaxSize int

	// Timeout is the single deadline budget for a whole filter call,
	// resolution through response body.
	Timeout time.Duration

	// SafeFallback replays the original message on failure instead of
	// producing no output.
	SafeFallback bool

	// Compress sends the request body zlib-compressed.
	Compress bool

	// MaxRetries is the number of connect attempts across the resolved
	// address set.
	MaxRetries int

	// RetryDelay is the pause between connect attempts.
	RetryDelay time.Duration

	// ConnectTimeout bounds a single connect attempt. Zero means the
	// call deadline alone applies.
	ConnectTimeout time.Duration

	// Resolver resolves Host. Defaults to the standard library resolver.
	Resolver dns.HostResolver

	// Logger receives diagnostics. Defaults to slog.Default.
	Logger *slog.Logger
}

// DefaultClientConfig returns a ClientConfig with the conventional
// defaults.
func DefaultClientConfig() *ClientConfig {
	return &ClientConfig{
		Host:       DefaultHost,
		Port:       DefaultPort,
		MaxSize:    DefaultMaxSize,
		Timeout:    DefaultTimeout,
		MaxRetries: defaultMaxRetries,
		RetryDelay: defaultRetryDelay,
	}
}

// withDefaults fills unset fields so internal code never branches on
// zero values.
func (c *ClientConfig) withDefaults() *ClientConfig {
	if c == nil {
		return DefaultClientConfig().withDefaults()
	}
	out := *c
	if out.Host == "" {
		out.Host = DefaultHost
	}
	if out.Port == 0 {
		out.Port = DefaultPort
	}
	if out.MaxSize == 0 {
		out.MaxSize = DefaultMaxSize
	}
	if out.Timeout == 0 {
		out.Timeout = DefaultTimeout
	}
	if out.MaxRetries == 0 {
		out.MaxRetries = defaultMaxRetries
	}
	if out.RetryDelay == 0 {
		out.RetryDelay = defaultRetryDelay
	}
	if out.Resolver == nil {
		out.Resolver = dns.NewStdResolver()
	}
	if out.Logger == nil {
		out.Logger = slog.Default()
	}
	return &out
}
