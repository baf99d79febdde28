package shrike

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"time"
)

// Transport is a connected byte stream to the daemon. Reads and writes
// are bounded by the context deadline; expiry surfaces as an I/O
// failure, never as a short or empty success.
type Transport interface {
	// Read fills p with available bytes, waiting no longer than the
	// context's deadline.
	Read(ctx context.Context, p []byte) (int, error)

	// WriteAll sends the whole buffer, retrying partial writes until a
	// hard error occurs.
	WriteAll(ctx context.Context, p []byte) error

	// CloseWrite half-closes the sending side, signalling end of body
	// to the peer. The encrypted transport has no usable equivalent;
	// callers must not rely on it uniformly.
	CloseWrite() error

	// CloseRead half-closes the receiving side.
	CloseRead() error

	Close() error
}

// stream is the plain transport over a TCP or Unix socket.
type stream struct {
	conn net.Conn
}

// NewStream wraps an established plain connection.
func NewStream(conn net.Conn) Transport {
	return &stream{conn: conn}
}

func (s *stream) Read(ctx context.Context, p []byte) (int, error) {
	if err := applyDeadline(ctx, s.conn.SetReadDeadline); err != nil {
		return 0, err
	}
	n, err := s.conn.Read(p)
	if err != nil && isTimeout(err) {
		return n, wrapErr(CodeIOErr, err, "read timed out")
	}
	return n, err
}

func (s *stream) WriteAll(ctx context.Context, p []byte) error {
	return writeAll(ctx, s.conn, p)
}

func (s *stream) CloseWrite() error {
	type writeCloser interface{ CloseWrite() error }
	if wc, ok := s.conn.(writeCloser); ok {
		return wc.CloseWrite()
	}
	return nil
}

func (s *stream) CloseRead() error {
	type readCloser interface{ CloseRead() error }
	if rc, ok := s.conn.(readCloser); ok {
		return rc.CloseRead()
	}
	return nil
}

func (s *stream) Close() error {
	return s.conn.Close()
}

// tlsStream is the encrypted transport layered over the same underlying
// connection.
type tlsStream struct {
	conn *tls.Conn
}

// NewTLSStream performs the client handshake over conn and returns the
// encrypted transport.
func NewTLSStream(ctx context.Context, conn net.Conn, cfg *tls.Config) (Transport, error) {
	tc := tls.Client(conn, cfg)
	if err := tc.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, wrapErr(CodeIOErr, err, "tls handshake")
	}
	return &tlsStream{conn: tc}, nil
}

func (t *tlsStream) Read(ctx context.Context, p []byte) (int, error) {
	if err := applyDeadline(ctx, t.conn.SetReadDeadline); err != nil {
		return 0, err
	}
	n, err := t.conn.Read(p)
	if err != nil && isTimeout(err) {
		return n, wrapErr(CodeIOErr, err, "read timed out")
	}
	return n, err
}

func (t *tlsStream) WriteAll(ctx context.Context, p []byte) error {
	return writeAll(ctx, t.conn, p)
}

// CloseWrite is a no-op: a close_notify before the response is read is
// taken as an abort by some daemon builds, so end of body is conveyed by
// Content-length alone on the encrypted transport.
func (t *tlsStream) CloseWrite() error {
	return nil
}

func (t *tlsStream) CloseRead() error {
	return nil
}

func (t *tlsStream) Close() error {
	return t.conn.Close()
}

// applyDeadline propagates the context deadline to a connection
// deadline setter. An already-expired context fails immediately.
func applyDeadline(ctx context.Context, set func(time.Time) error) error {
	if err := ctx.Err(); err != nil {
		return wrapErr(CodeIOErr, err, "deadline expired")
	}
	if d, ok := ctx.Deadline(); ok {
		return set(d)
	}
	return set(time.Time{})
}

// writeAll retries on partial writes until the buffer is fully sent.
func writeAll(ctx context.Context, conn net.Conn, p []byte) error {
	if err := applyDeadline(ctx, conn.SetWriteDeadline); err != nil {
		return err
	}
	for len(p) > 0 {
		n, err := conn.Write(p)
		if err != nil {
			if isTimeout(err) {
				return wrapErr(CodeIOErr, err, "write timed out")
			}
			return wrapErr(CodeIOErr, err, "writing to daemon")
		}
		p = p[n:]
	}
	return nil
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
