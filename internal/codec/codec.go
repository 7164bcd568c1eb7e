// Package codec parses scanned QR payloads into registration numbers.
package codec

import (
	"errors"
	"strings"
)

// ErrInvalidFormat indicates a payload that is not a registration number.
var ErrInvalidFormat = errors.New("invalid qr payload format")

// Parse validates a decoded QR payload and returns it as a roster lookup key.
// A valid payload splits on "-" into at least two non-empty segments, e.g.
// "2024-John_Doe_CS". The payload is used verbatim as the key; segments are
// not individually validated here.
func Parse(payload string) (string, error) {
	segments := 0
	for _, seg := range strings.Split(payload, "-") {
		if seg != "" {
			segments++
		}
	}
	if segments < 2 {
		return "", ErrInvalidFormat
	}
	return payload, nil
}
