package shrike

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/klauspost/compress/zlib"
)

const (
	// protocolVersion is the request version tag. Daemons answering with
	// anything below 1.0 are rejected.
	protocolVersion = "SPAMC/1.3"

	// maxHeaderLen bounds the assembled request header and each response
	// line.
	maxHeaderLen = 8192
)

// Operation selects the daemon command for a filter call.
type Operation int

const (
	// OpProcess returns the message rewritten by the daemon.
	OpProcess Operation = iota
	// OpCheck returns only the verdict summary; no response body.
	OpCheck
	// OpReportIfSpam returns a report body when the message is spam.
	OpReportIfSpam
	// OpReport always returns a report body.
	OpReport
	// OpSymbols returns the matched rule names.
	OpSymbols
)

func (op Operation) command() string {
	switch op {
	case OpProcess:
		return "PROCESS"
	case OpCheck:
		return "CHECK"
	case OpReportIfSpam:
		return "REPORT_IFSPAM"
	case OpReport:
		return "REPORT"
	case OpSymbols:
		return "SYMBOLS"
	default:
		return ""
	}
}

// Client speaks the daemon protocol over an established Transport. One
// Client may serve many sequential calls; it holds no per-call state.
type Client struct {
	config *ClientConfig
	logger *slog.Logger
}

// NewClient returns a Client for the given configuration. A nil config
// gets the defaults.
func NewClient(cfg *ClientConfig) *Client {
	cfg = cfg.withDefaults()
	return &Client{config: cfg, logger: cfg.Logger}
}

// Filter submits m over t and fills in the daemon's answer: verdict,
// score and threshold, and for body-bearing operations the response
// body as the message output. On any failure the message output is
// restored to the original body so the caller can fall back to
// replaying it.
func (c *Client) Filter(ctx context.Context, t Transport, op Operation, m *Message) error {
	if err := c.filter(ctx, t, op, m); err != nil {
		m.restoreOutput()
		return err
	}
	return nil
}

func (c *Client) filter(ctx context.Context, t Transport, op Operation, m *Message) error {
	if op.command() == "" {
		return statusErr(CodeUsage, "unknown operation %d", op)
	}

	body := m.Body()
	compressed := false
	if c.config.Compress {
		zb, err := compressBody(body)
		if err != nil {
			return err
		}
		body = zb
		compressed = true
	}

	hdr, err := c.buildHeader(op, compressed, len(body))
	if err != nil {
		return err
	}

	if err := t.WriteAll(ctx, hdr); err != nil {
		return err
	}
	if err := t.WriteAll(ctx, body); err != nil {
		return err
	}
	if err := t.CloseWrite(); err != nil {
		return wrapErr(CodeIOErr, err, "closing write side")
	}

	br := bufio.NewReaderSize(ctxReader{ctx: ctx, t: t}, maxHeaderLen)

	line, err := readLine(br)
	if err != nil {
		return err
	}
	version, code, reason, err := parseStatusLine(line)
	if err != nil {
		return err
	}
	if code != 0 {
		return statusErr(Code(code), "daemon refused request: %s", reason)
	}
	c.logger.Debug("daemon response", slog.Float64("version", version))

	sawVerdict := false
	for {
		line, err := readLine(br)
		if err != nil {
			return err
		}
		if line == "" {
			break
		}

		name, value, found := strings.Cut(line, ":")
		if !found {
			return statusErr(CodeProtocol, "malformed response header %q", line)
		}
		switch {
		case strings.EqualFold(name, "Spam"):
			isSpam, score, threshold, ok := parseSpamHeader(value)
			if !ok {
				return statusErr(CodeProtocol, "malformed verdict header %q", line)
			}
			m.Score = score
			m.Threshold = threshold
			if op == OpCheck {
				if isSpam {
					m.Verdict = VerdictIsSpam
				} else {
					m.Verdict = VerdictNotSpam
				}
				m.setSummary(score, threshold)
			}
			sawVerdict = true
		case strings.EqualFold(name, "Content-length"):
			n, err := parseContentLength(value)
			if err != nil {
				return err
			}
			m.ContentLength = n
		default:
			return statusErr(CodeProtocol, "unexpected response header %q", name)
		}
	}

	if op == OpCheck {
		if !sawVerdict {
			return statusErr(CodeProtocol, "response carries no verdict")
		}
		return nil
	}

	if m.ContentLength < 0 {
		return statusErr(CodeProtocol, "response carries no Content-length")
	}
	out, err := readBody(br, m.MaxSize+expansionAllowance)
	if err != nil {
		return err
	}
	if len(out) != m.ContentLength {
		return statusErr(CodeProtocol, "response body is %d bytes, Content-length said %d",
			len(out), m.ContentLength)
	}
	m.Verdict = VerdictOutput
	m.setOutput(out)
	return nil
}

// Ping probes daemon liveness: a bare PING request must come back with a
// zero status code.
func (c *Client) Ping(ctx context.Context, t Transport) error {
	req := fmt.Sprintf("PING %s\r\n\r\n", protocolVersion)
	if err := t.WriteAll(ctx, []byte(req)); err != nil {
		return err
	}
	if err := t.CloseWrite(); err != nil {
		return wrapErr(CodeIOErr, err, "closing write side")
	}

	br := bufio.NewReaderSize(ctxReader{ctx: ctx, t: t}, maxHeaderLen)
	line, err := readLine(br)
	if err != nil {
		return err
	}
	_, code, reason, err := parseStatusLine(line)
	if err != nil {
		return err
	}
	if code != 0 {
		return statusErr(Code(code), "ping refused: %s", reason)
	}
	return nil
}

// buildHeader assembles the request header block. The bound is enforced
// on the finished block, not per field, so an oversized username cannot
// slip through truncated.
func (c *Client) buildHeader(op Operation, compressed bool, bodyLen int) ([]byte, error) {
	var hdr bytes.Buffer
	fmt.Fprintf(&hdr, "%s %s\r\n", op.command(), protocolVersion)
	if c.config.Username != "" {
		fmt.Fprintf(&hdr, "User: %s\r\n", c.config.Username)
	}
	if compressed {
		hdr.WriteString("Compress: zlib\r\n")
	}
	fmt.Fprintf(&hdr, "Content-length: %d\r\n\r\n", bodyLen)

	if hdr.Len() > maxHeaderLen {
		return nil, statusErr(CodeSoftware, "request header exceeds %d bytes", maxHeaderLen)
	}
	return hdr.Bytes(), nil
}

func compressBody(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zlib.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		zw.Close()
		return nil, wrapErr(CodeSoftware, err, "compressing request body")
	}
	if err := zw.Close(); err != nil {
		return nil, wrapErr(CodeSoftware, err, "compressing request body")
	}
	return buf.Bytes(), nil
}

// ctxReader adapts a Transport to io.Reader with the call's context
// threaded through every read.
type ctxReader struct {
	ctx context.Context
	t   Transport
}

func (r ctxReader) Read(p []byte) (int, error) {
	return r.t.Read(r.ctx, p)
}

// readLine reads one CRLF-terminated response line, without the
// terminator. A line that overflows the reader's buffer is rejected
// rather than accumulated.
func readLine(br *bufio.Reader) (string, error) {
	raw, err := br.ReadSlice('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return "", statusErr(CodeTooBig, "response line exceeds %d bytes", maxHeaderLen)
		}
		var se *StatusError
		if errors.As(err, &se) {
			return "", err
		}
		if errors.Is(err, io.EOF) {
			return "", statusErr(CodeIOErr, "connection closed mid-response")
		}
		return "", wrapErr(CodeIOErr, err, "reading response")
	}
	line := string(raw)
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line, nil
}

// readBody reads the response body to end-of-stream, refusing to grow
// past limit bytes.
func readBody(br *bufio.Reader, limit int) ([]byte, error) {
	out := make([]byte, 0, 4096)
	buf := make([]byte, 4096)
	for {
		n, err := br.Read(buf)
		out = append(out, buf[:n]...)
		if len(out) > limit {
			return nil, statusErr(CodeTooBig, "response body exceeds %d bytes", limit)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			var se *StatusError
			if errors.As(err, &se) {
				return nil, err
			}
			return nil, wrapErr(CodeIOErr, err, "reading response body")
		}
	}
}
