package ics

import "strings"

// RFC 5545 3.1: content lines longer than 75 octets are split into multiple
// lines, each continuation prefixed with a single space. The first physical
// line carries at most 75 octets; each continuation carries the space plus at
// most 74 content octets. Splits never land inside a UTF-8 sequence.
const (
	foldFirstWidth = 75
	foldContWidth  = 74
)

// FoldContent folds a logical content line for output. Input that already
// contains CRLF (pre-folded or multi-line content) is re-validated segment by
// segment instead of being folded from scratch, so valid existing folds pass
// through untouched.
func FoldContent(line string) string {
	if strings.Contains(line, "\r\n") {
		segments := strings.Split(line, "\r\n")
		for i, seg := range segments {
			segments[i] = foldSegment(seg)
		}
		return strings.Join(segments, "\r\n")
	}
	return foldSegment(line)
}

// foldSegment folds a single physical segment if it exceeds 75 octets.
func foldSegment(seg string) string {
	if len(seg) <= foldFirstWidth {
		return seg
	}

	var b strings.Builder
	width := foldFirstWidth
	for len(seg) > width {
		cut := runeSafeCut(seg, width)
		b.WriteString(seg[:cut])
		b.WriteString("\r\n ")
		seg = seg[cut:]
		width = foldContWidth
	}
	b.WriteString(seg)
	return b.String()
}

// runeSafeCut returns the largest index <= max that does not split a UTF-8
// sequence. Continuation bytes have the form 10xxxxxx.
func runeSafeCut(s string, max int) int {
	cut := max
	for cut > 0 && s[cut]&0xC0 == 0x80 {
		cut--
	}
	if cut == 0 {
		// Degenerate input (a single rune wider than the fold width cannot
		// occur in UTF-8); fall back to the raw cut.
		return max
	}
	return cut
}

// EscapeText escapes a text value per RFC 5545 3.3.11: backslash, semicolon
// and comma are backslash-escaped, newlines become a literal \n, and carriage
// returns are stripped.
func EscapeText(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, ";", `\;`)
	s = strings.ReplaceAll(s, ",", `\,`)
	return s
}
