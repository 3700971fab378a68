// Package payload encodes alert notifications into the characteristic wire format.
//
// The wire format is UTF-8 text:
//
//	<level>|<message>
//
// where level is 0=SAFE, 1=WARNING, 2=DANGER. Encoded payloads are truncated
// byte-wise to the maximum characteristic value length, so a multi-byte rune at
// the cut point may be split. Encoding never fails: oversized messages are cut
// and out-of-range levels pass through unchanged.
package payload

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultMaxLength is the default upper bound for an encoded payload in bytes.
const DefaultMaxLength = 500

// Separator divides the level from the message.
const Separator = '|'

// ErrMalformed is returned by Decode when the payload has no separator.
var ErrMalformed = errors.New("malformed payload: missing separator")

// Level is the drowsiness alert level carried in a payload.
type Level int

const (
	Safe Level = iota
	Warning
	Danger
)

func (l Level) String() string {
	switch l {
	case Safe:
		return "SAFE"
	case Warning:
		return "WARNING"
	case Danger:
		return "DANGER"
	default:
		return "LEVEL(" + strconv.Itoa(int(l)) + ")"
	}
}

// ParseLevel accepts a level name (case-insensitive) or any integer.
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "SAFE":
		return Safe, nil
	case "WARNING", "WARN":
		return Warning, nil
	case "DANGER":
		return Danger, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid level %q: use safe, warning, danger or a number", s)
	}
	return Level(n), nil
}

// Encode renders level and message as "<level>|<message>" and truncates the
// result to maxLen bytes. A non-positive maxLen selects DefaultMaxLength.
func Encode(level Level, message string, maxLen int) []byte {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}

	lvl := strconv.Itoa(int(level))
	buf := make([]byte, 0, len(lvl)+1+len(message))
	buf = append(buf, lvl...)
	buf = append(buf, Separator)
	buf = append(buf, message...)

	if len(buf) > maxLen {
		buf = buf[:maxLen]
	}
	return buf
}

// Decode splits a payload on the first separator byte and returns the level
// string and the message remainder.
func Decode(data []byte) (level string, message string, err error) {
	i := bytes.IndexByte(data, Separator)
	if i < 0 {
		return "", "", ErrMalformed
	}
	return string(data[:i]), string(data[i+1:]), nil
}
