package shrike

import (
	"context"
	"io"
	"log/slog"

	"github.com/oklog/ulid/v2"
)

// Processor drives one complete filter call: frame the input, submit it
// to the daemon, write the result. Each call owns its message buffers
// and deadline; a Processor must not run two calls concurrently, but
// sequential calls are independent.
type Processor struct {
	config *ClientConfig
	dialer *Dialer
	client *Client
	logger *slog.Logger
}

// NewProcessor returns a Processor for the given configuration. A nil
// config gets the defaults.
func NewProcessor(cfg *ClientConfig) *Processor {
	cfg = cfg.withDefaults()
	return &Processor{
		config: cfg,
		dialer: NewDialer(cfg),
		client: NewClient(cfg),
		logger: cfg.Logger,
	}
}

// Run reads one message from in, filters it through the daemon, and
// writes the outcome to out. The returned Code is the call's outcome
// classification; Code.ExitCode maps it onto a process exit status.
//
// Failures never escape as hard errors to a check-only caller, and with
// safe fallback enabled the original input is replayed verbatim while
// the failure classification is still surfaced.
func (p *Processor) Run(ctx context.Context, op Operation, mode Mode, in io.Reader, out io.Writer) Code {
	logger := p.logger.With(slog.String("trace", ulid.Make().String()))

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	m, err := ReadMessage(in, mode, p.config.MaxSize)
	if err != nil {
		logger.Error("framing input failed", slog.Any("error", err))
		return p.fail(op, m, in, out, err)
	}

	if err := p.filter(ctx, op, m, logger); err != nil {
		logger.Error("filtering failed", slog.Any("error", err))
		return p.fail(op, m, in, out, err)
	}

	if _, err := m.WriteTo(out); err != nil {
		logger.Error("writing output failed", slog.Any("error", err))
		if op == OpCheck {
			return p.fail(op, m, in, out, err)
		}
		// The daemon answered and bytes may already be on the output;
		// replaying the original here would interleave the two.
		return CodeOf(err)
	}

	logger.Debug("filter call done",
		slog.String("verdict", verdictName(m.Verdict)),
		slog.Float64("score", m.Score),
		slog.Float64("threshold", m.Threshold))

	if op == OpCheck {
		if m.Verdict == VerdictIsSpam {
			return CodeIsSpam
		}
		return CodeNotSpam
	}
	return CodeOutputMessage
}

func (p *Processor) filter(ctx context.Context, op Operation, m *Message, logger *slog.Logger) error {
	t, err := p.dialer.DialContext(ctx)
	if err != nil {
		return err
	}
	defer t.Close()

	logger.Debug("connected to daemon",
		slog.String("host", p.config.Host),
		slog.Int("port", p.config.Port))

	return p.client.Filter(ctx, t, op, m)
}

// Ping dials the daemon and probes it for liveness.
func (p *Processor) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	t, err := p.dialer.DialContext(ctx)
	if err != nil {
		return err
	}
	defer t.Close()

	return p.client.Ping(ctx, t)
}

// fail applies the fallback policy. A failed call is never retried as a
// whole; only the connect phase had internal retry.
func (p *Processor) fail(op Operation, m *Message, in io.Reader, out io.Writer, err error) Code {
	code := CodeOf(err)

	if op == OpCheck {
		// A down daemon must never block a check-only caller.
		io.Copy(io.Discard, in)
		io.WriteString(out, "0/0\n")
		return CodeNotSpam
	}

	if p.config.SafeFallback {
		if m != nil && m.Mode != ModeNone {
			m.WriteTo(out)
		}
		// Replay whatever the capture did not take, e.g. the tail of an
		// oversize input.
		io.Copy(out, in)
		return code
	}

	// Strict mode: no output body, but drain the input so an upstream
	// writer is not left blocked.
	io.Copy(io.Discard, in)
	return code
}

func verdictName(v Verdict) string {
	switch v {
	case VerdictIsSpam:
		return "spam"
	case VerdictNotSpam:
		return "ham"
	case VerdictOutput:
		return "output"
	default:
		return "unknown"
	}
}
