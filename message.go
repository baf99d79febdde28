package shrike

import (
	"bytes"
	"fmt"
	"io"
)

// Mode identifies the input shape a Message was framed from.
type Mode int

const (
	// ModeNone means no capture has happened yet.
	ModeNone Mode = iota
	// ModeError means a capture exists but framing did not complete;
	// only the verbatim capture can be replayed.
	ModeError
	// ModeRaw is an opaque byte-stream message.
	ModeRaw
	// ModeBSMTP is a batched-SMTP transcript with dot-stuffing.
	ModeBSMTP
)

// Verdict is the daemon's classification of a message.
type Verdict int

const (
	// VerdictUnknown is the initial state and the "never got far
	// enough" sentinel, including oversize captures.
	VerdictUnknown Verdict = iota
	VerdictIsSpam
	VerdictNotSpam
	// VerdictOutput means a processed message body is pending output.
	VerdictOutput
)

const (
	// expansionAllowance is headroom for annotations the daemon may
	// insert into a processed message (added headers, report text).
	expansionAllowance = 16384

	// stuffChunk bounds the intermediate buffer used when re-stuffing a
	// transcript body on output; the body itself may be arbitrarily
	// large relative to any single chunk.
	stuffChunk = 1024
)

// Message is the unit of one filter call: the captured input, the views
// produced by framing, and the buffer holding whatever will be written
// out.
type Message struct {
	Mode    Mode
	MaxSize int

	Verdict   Verdict
	Score     float64
	Threshold float64

	// ContentLength is -1 until set from a response header. Once set it
	// must equal the number of body bytes actually received.
	ContentLength int

	raw  []byte // verbatim capture, at most MaxSize+1 bytes
	pre  []byte // view into raw: preamble through the DATA line
	body []byte // view into raw; for BSMTP the unstuffed data section
	post []byte // view into raw: lone-dot line and everything after it

	// out either aliases body (echo) or owns an independent buffer
	// (daemon response, check summary). outOwned records which, so the
	// failure path can restore the alias without confusing the two.
	out      []byte
	outOwned bool
}

// NewMessage returns an empty message bounded by maxSize input bytes.
func NewMessage(maxSize int) *Message {
	return &Message{MaxSize: maxSize, ContentLength: -1}
}

// ReadMessage frames one message from r according to mode.
func ReadMessage(r io.Reader, mode Mode, maxSize int) (*Message, error) {
	switch mode {
	case ModeRaw:
		return ReadRaw(r, maxSize)
	case ModeBSMTP:
		return ReadBSMTP(r, maxSize)
	default:
		return NewMessage(maxSize), statusErr(CodeUsage, "unknown input mode %d", mode)
	}
}

// capture reads up to MaxSize+1 bytes so an over-limit input is
// detectable. On oversize the capture is retained for fallback replay
// and the returned error classifies TOOBIG.
func (m *Message) capture(r io.Reader) error {
	buf := make([]byte, m.MaxSize+1)
	n, err := io.ReadFull(r, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		if err == io.EOF {
			return statusErr(CodeIOErr, "empty input")
		}
		return wrapErr(CodeIOErr, err, "reading input")
	}
	m.raw = buf[:n]
	m.Mode = ModeError
	if n > m.MaxSize {
		return statusErr(CodeTooBig, "input exceeds %d bytes", m.MaxSize)
	}
	return nil
}

// ReadRaw captures an opaque message: the whole capture is the body.
func ReadRaw(r io.Reader, maxSize int) (*Message, error) {
	m := NewMessage(maxSize)
	if err := m.capture(r); err != nil {
		return m, err
	}
	m.Mode = ModeRaw
	m.body = m.raw
	m.out = m.body
	m.outOwned = false
	return m, nil
}

// ReadBSMTP captures a batched-SMTP transcript and splits it into
// preamble, unstuffed data section, and terminator.
func ReadBSMTP(r io.Reader, maxSize int) (*Message, error) {
	m := NewMessage(maxSize)
	if err := m.capture(r); err != nil {
		return m, err
	}

	cut := findDataEnd(m.raw)
	if cut < 0 {
		return m, statusErr(CodeDataErr, "transcript has no DATA line")
	}
	m.pre = m.raw[:cut]

	// Unstuff in place. The write cursor j never overtakes the read
	// cursor i, so the compacted body fits inside the capture and the
	// post view keeps its original bytes.
	work := m.raw[cut:]
	prev := byte('\n')
	j := 0
	postAt := -1
	for i := 0; i < len(work); i++ {
		if prev == '\n' && work[i] == '.' {
			if loneDot(work, i) {
				postAt = i
				break
			}
			if i+1 < len(work) && work[i+1] == '.' {
				// Stuffed dot, drop it.
				prev = '.'
				continue
			}
		}
		prev = work[i]
		work[j] = work[i]
		j++
	}

	m.body = work[:j]
	if postAt >= 0 {
		m.post = work[postAt:]
	}

	m.Mode = ModeBSMTP
	m.out = m.body
	m.outOwned = false
	return m, nil
}

// findDataEnd returns the offset just past the terminator of the first
// line whose content is the case-insensitive token DATA, or -1.
func findDataEnd(raw []byte) int {
	ls := 0
	for ls < len(raw) {
		nl := bytes.IndexByte(raw[ls:], '\n')
		if nl < 0 {
			return -1
		}
		end := ls + nl
		line := raw[ls:end]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if bytes.EqualFold(line, []byte("DATA")) {
			return end + 1
		}
		ls = end + 1
	}
	return -1
}

// loneDot reports whether the dot at work[i] is a line of its own. A dot
// at the very end of the capture counts: the terminator line may arrive
// without its trailing newline.
func loneDot(work []byte, i int) bool {
	if i+1 >= len(work) {
		return true
	}
	if work[i+1] == '\n' {
		return true
	}
	return work[i+1] == '\r' && (i+2 >= len(work) || work[i+2] == '\n')
}

// Body returns the framed body to submit for scoring.
func (m *Message) Body() []byte {
	return m.body
}

// Output returns whatever WriteTo would emit as the message body.
func (m *Message) Output() []byte {
	return m.out
}

// setOutput installs an independently owned output buffer.
func (m *Message) setOutput(buf []byte) {
	m.out = buf
	m.outOwned = true
}

// setSummary formats the check-only verdict summary as the output.
func (m *Message) setSummary(score, threshold float64) {
	m.setOutput([]byte(fmt.Sprintf("%.1f/%.1f\n", score, threshold)))
}

// restoreOutput re-aliases the output to the framed body so a failed
// filter call can replay the original message.
func (m *Message) restoreOutput() {
	m.out = m.body
	m.outOwned = false
}

// WriteTo serializes the message per its mode's re-serialization rule.
func (m *Message) WriteTo(w io.Writer) (int64, error) {
	switch m.Verdict {
	case VerdictIsSpam, VerdictNotSpam:
		// Check-only summary.
		return writeFull(w, m.out)
	case VerdictUnknown, VerdictOutput:
	default:
		return 0, statusErr(CodeSoftware, "cannot write message with verdict %d", m.Verdict)
	}

	switch m.Mode {
	case ModeError:
		return writeFull(w, m.raw)
	case ModeRaw:
		return writeFull(w, m.out)
	case ModeBSMTP:
		total, err := writeFull(w, m.pre)
		if err != nil {
			return total, err
		}
		n, err := writeStuffed(w, m.out)
		total += n
		if err != nil {
			return total, err
		}
		n, err = writeFull(w, m.post)
		return total + n, err
	default:
		return 0, statusErr(CodeSoftware, "no message to write")
	}
}

func writeFull(w io.Writer, p []byte) (int64, error) {
	n, err := w.Write(p)
	if err != nil {
		return int64(n), wrapErr(CodeIOErr, err, "writing output")
	}
	return int64(n), nil
}

// writeStuffed re-applies dot-stuffing while copying the body out,
// working through a fixed-size chunk so the body never has to fit a
// single in-memory buffer twice.
func writeStuffed(w io.Writer, body []byte) (int64, error) {
	var total int64
	buf := make([]byte, 0, stuffChunk)
	atLineStart := true
	for _, b := range body {
		if atLineStart && b == '.' {
			buf = append(buf, '.')
		}
		buf = append(buf, b)
		atLineStart = b == '\n'

		if len(buf) >= stuffChunk-1 {
			n, err := w.Write(buf)
			total += int64(n)
			if err != nil {
				return total, wrapErr(CodeIOErr, err, "writing output")
			}
			buf = buf[:0]
		}
	}
	if len(buf) > 0 {
		n, err := w.Write(buf)
		total += int64(n)
		if err != nil {
			return total, wrapErr(CodeIOErr, err, "writing output")
		}
	}
	return total, nil
}
