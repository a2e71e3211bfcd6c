package generic

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

var (
	utf16BOM = []byte{0xFE, 0xFF}
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
)

// NewTextString creates a PDF text string. Pure ASCII is stored as is,
// anything else as UTF-16BE with a byte order mark.
func NewTextString(s string) *StringObject {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return &StringObject{Value: []byte(s)}
	}

	enc := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder()
	encoded, err := enc.Bytes([]byte(s))
	if err != nil {
		// Invalid UTF-8 input; keep the raw bytes.
		return &StringObject{Value: []byte(s)}
	}
	return &StringObject{Value: encoded}
}

// Text decodes the string as a PDF text string.
func (s *StringObject) Text() string {
	switch {
	case bytes.HasPrefix(s.Value, utf16BOM):
		dec := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder()
		out, err := dec.Bytes(s.Value)
		if err == nil {
			return string(out)
		}
	case bytes.HasPrefix(s.Value, utf8BOM):
		return string(s.Value[len(utf8BOM):])
	}

	// PDFDocEncoding agrees with Latin-1 outside a handful of code points.
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(s.Value)
	if err != nil {
		return string(s.Value)
	}
	return string(out)
}

// FormatDate renders a time in PDF date syntax, D:YYYYMMDDHHmmSS+HH'mm'.
func FormatDate(t time.Time) string {
	_, offset := t.Zone()
	sign := '+'
	if offset < 0 {
		sign = '-'
		offset = -offset
	}
	if offset == 0 {
		return t.Format("D:20060102150405") + "Z"
	}
	return fmt.Sprintf("%s%c%02d'%02d'", t.Format("D:20060102150405"), sign, offset/3600, (offset%3600)/60)
}

// ParseDate parses a PDF date string. Trailing components may be omitted,
// as permitted by ISO 32000.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "D:")
	if len(s) < 4 {
		return time.Time{}, fmt.Errorf("invalid PDF date %q", s)
	}

	digits := s
	tz := ""
	if i := strings.IndexAny(s, "Z+-"); i >= 0 {
		digits, tz = s[:i], s[i:]
	}
	// Pad missing fields with the earliest valid value.
	const full = "00000101000000"
	if len(digits) > len(full) {
		return time.Time{}, fmt.Errorf("invalid PDF date %q", s)
	}
	digits += full[len(digits):]

	t, err := time.Parse("20060102150405", digits)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid PDF date %q: %w", s, err)
	}
	if tz == "" || tz[0] == 'Z' {
		return t.UTC(), nil
	}

	tz = strings.ReplaceAll(tz, "'", "")
	var hh, mm int
	if len(tz) >= 3 {
		fmt.Sscanf(tz[1:3], "%d", &hh)
	}
	if len(tz) >= 5 {
		fmt.Sscanf(tz[3:5], "%d", &mm)
	}
	offset := hh*3600 + mm*60
	if tz[0] == '-' {
		offset = -offset
	}
	loc := time.FixedZone("", offset)
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc), nil
}
