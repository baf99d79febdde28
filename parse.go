package shrike

import (
	"strconv"
	"strings"
)

// parseDecimal parses a signed decimal number from the start of a wire
// token without consulting the process locale. The daemon always emits a
// dot as the decimal separator; strconv-style parsing of the whole token
// is avoided because the token may carry trailing protocol text, which is
// ignored. Unrecognized input yields 0.
func parseDecimal(s string) float64 {
	i := 0
	neg := false
	if i < len(s) && (s[i] == '-' || s[i] == '+') {
		neg = s[i] == '-'
		i++
	}

	var whole float64
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		whole = whole*10 + float64(s[i]-'0')
		i++
	}

	if i >= len(s) || s[i] != '.' {
		if neg {
			return -whole
		}
		return whole
	}
	i++

	// Fractional digit run after the dot. An empty run leaves the
	// integer part unchanged.
	var frac float64
	div := 1.0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		frac = frac*10 + float64(s[i]-'0')
		div *= 10
		i++
	}

	v := whole + frac/div
	if neg {
		return -v
	}
	return v
}

// parseStatusLine parses a response status line of the form
// "SPAMD/<version> <code> <reason>". A version below 1.0 or any
// deviation from the form is a protocol violation.
func parseStatusLine(line string) (version float64, code int, reason string, err error) {
	const prefix = "SPAMD/"
	if !strings.HasPrefix(line, prefix) {
		return 0, 0, "", statusErr(CodeProtocol, "bad status line %q", line)
	}

	rest := line[len(prefix):]
	fields := strings.Fields(rest)
	if len(fields) < 2 {
		return 0, 0, "", statusErr(CodeProtocol, "bad status line %q", line)
	}

	version = parseDecimal(fields[0])
	if version < 1.0 {
		return 0, 0, "", statusErr(CodeProtocol, "bad protocol version %q", fields[0])
	}

	code, cerr := strconv.Atoi(fields[1])
	if cerr != nil {
		return 0, 0, "", statusErr(CodeProtocol, "bad status line %q", line)
	}

	if len(fields) > 2 {
		reason = strings.Join(fields[2:], " ")
	}
	return version, code, reason, nil
}

// parseSpamHeader parses the value of a verdict header:
// "<true|false> ; <score> / <threshold>". The verdict token comparison is
// case-insensitive; the numbers go through the locale-safe parser.
func parseSpamHeader(value string) (isSpam bool, score, threshold float64, ok bool) {
	tok, rest, found := strings.Cut(value, ";")
	if !found {
		return false, 0, 0, false
	}
	sStr, tStr, found := strings.Cut(rest, "/")
	if !found {
		return false, 0, 0, false
	}

	tok = strings.TrimSpace(tok)
	if tok == "" {
		return false, 0, 0, false
	}

	isSpam = strings.EqualFold(tok, "true")
	score = parseDecimal(strings.TrimSpace(sStr))
	threshold = parseDecimal(strings.TrimSpace(tStr))
	return isSpam, score, threshold, true
}

// parseContentLength parses the value of a Content-length header.
// Negative or non-numeric lengths are protocol violations.
func parseContentLength(value string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, wrapErr(CodeProtocol, err, "bad Content-length %q", value)
	}
	if n < 0 {
		return 0, statusErr(CodeProtocol, "negative Content-length %d", n)
	}
	return n, nil
}
