package signal

import (
	"errors"
	"strconv"
	"strings"
)

// Plausible range of a 10-bit analog sensor reading.
const (
	MinValue = 0
	MaxValue = 1023
)

var (
	ErrMalformed    = errors.New("malformed sample line")
	ErrOutOfRange   = errors.New("sample out of sensor range")
	ErrUnknownInput = errors.New("unknown signal source")
)

// Source yields raw sensor values. Read never blocks; it reports false when
// no new value is available.
type Source interface {
	Read() (int, bool)
	Connected() bool
	Close() error
}

// ParseLine extracts a reading from one line of sensor output. Both a bare
// integer ("512") and the tagged form ("PPG:512|IR:..." ) are accepted.
func ParseLine(line string) (int, error) {
	line = strings.TrimSpace(line)
	if rest, ok := strings.CutPrefix(line, "PPG:"); ok {
		field, _, _ := strings.Cut(rest, "|")
		line = strings.TrimSpace(field)
	}
	if line == "" {
		return 0, ErrMalformed
	}
	v, err := strconv.Atoi(line)
	if err != nil {
		return 0, ErrMalformed
	}
	if v < MinValue || v > MaxValue {
		return 0, ErrOutOfRange
	}
	return v, nil
}
