// Shrike is a client library for the spamd content-scoring protocol.
//
// It submits a candidate mail message to a spamd-compatible daemon over
// TCP, a Unix socket, or TLS, and returns the daemon's verdict or, when
// the daemon cannot be reached, the original message unmodified. It is
// meant for mail-handling pipelines that need a spam decision without
// becoming a single point of failure themselves.
//
// # Processor
//
// The Processor drives a complete call: frame stdin-like input, filter,
// write the result:
//
//	cfg := shrike.DefaultClientConfig()
//	cfg.Host = "scanner.example.com"
//	cfg.SafeFallback = true
//
//	p := shrike.NewProcessor(cfg)
//	code := p.Run(ctx, shrike.OpProcess, shrike.ModeRaw, os.Stdin, os.Stdout)
//	os.Exit(code.ExitCode())
//
// On failure the policy is fixed: check-only callers get a zero/zero
// summary and a NotSpam outcome, safe-fallback callers get their input
// echoed back byte for byte, strict callers get no output and the
// failure classification.
//
// # Lower layers
//
// For finer control, dial and drive the protocol directly:
//
//	d := shrike.NewDialer(cfg)
//	t, err := d.DialContext(ctx)
//	if err != nil {
//	    return err
//	}
//	defer t.Close()
//
//	m, err := shrike.ReadRaw(msg, cfg.MaxSize)
//	if err != nil {
//	    return err
//	}
//	if err := shrike.NewClient(cfg).Filter(ctx, t, shrike.OpCheck, m); err != nil {
//	    return err
//	}
//
// Every failure carries a Code from the fixed outcome taxonomy;
// CodeOf(err) recovers it from any error the package returns.
package shrike

import (
	"context"
	"io"
)

// Check scores the message in r and reports whether the daemon
// classified it as spam, along with the score and threshold. The daemon
// being down is an error here; use a Processor for fallback behavior.
func Check(ctx context.Context, cfg *ClientConfig, r io.Reader) (isSpam bool, score, threshold float64, err error) {
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	m, err := ReadRaw(r, cfg.MaxSize)
	if err != nil {
		return false, 0, 0, err
	}

	t, err := NewDialer(cfg).DialContext(ctx)
	if err != nil {
		return false, 0, 0, err
	}
	defer t.Close()

	if err := NewClient(cfg).Filter(ctx, t, OpCheck, m); err != nil {
		return false, 0, 0, err
	}
	return m.Verdict == VerdictIsSpam, m.Score, m.Threshold, nil
}

// Process sends the message in r through the daemon and returns the
// rewritten message.
func Process(ctx context.Context, cfg *ClientConfig, r io.Reader) ([]byte, error) {
	cfg = cfg.withDefaults()

	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	m, err := ReadRaw(r, cfg.MaxSize)
	if err != nil {
		return nil, err
	}

	t, err := NewDialer(cfg).DialContext(ctx)
	if err != nil {
		return nil, err
	}
	defer t.Close()

	if err := NewClient(cfg).Filter(ctx, t, OpProcess, m); err != nil {
		return nil, err
	}
	return m.Output(), nil
}

// Ping reports whether the daemon answers its liveness probe.
func Ping(ctx context.Context, cfg *ClientConfig) error {
	return NewProcessor(cfg).Ping(ctx)
}
