package server

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrMalformedRange is returned for a Range header that does not parse.
	// Such headers are ignored and the full resource is served.
	ErrMalformedRange = errors.New("malformed range")
	// ErrInvalidRange is returned for a well-formed range that cannot be
	// satisfied by the resource.
	ErrInvalidRange = errors.New("range not satisfiable")
	// ErrMultiRange is returned when more than one range is requested.
	ErrMultiRange = errors.New("multi-range not supported")
)

// byteRange is an inclusive byte range [Start, End].
type byteRange struct {
	Start int64
	End   int64
}

// Length returns the number of bytes covered.
func (r byteRange) Length() int64 {
	return r.End - r.Start + 1
}

// parseRange parses a single "bytes=" Range header against a resource of
// size bytes. Open-ended (bytes=N-) and suffix (bytes=-N) forms are
// supported; an end beyond the resource is clamped. Syntax errors yield
// ErrMalformedRange, ranges outside the resource ErrInvalidRange.
func parseRange(header string, size int64) (byteRange, error) {
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return byteRange{}, ErrMalformedRange
	}

	rangeSet := strings.TrimPrefix(header, prefix)
	if strings.Contains(rangeSet, ",") {
		return byteRange{}, ErrMultiRange
	}

	startStr, endStr, ok := strings.Cut(rangeSet, "-")
	if !ok {
		return byteRange{}, ErrMalformedRange
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		// Suffix range: bytes=-500 (last 500 bytes)
		n, ok := parsePos(endStr)
		if !ok {
			return byteRange{}, ErrMalformedRange
		}
		if n == 0 || size == 0 {
			return byteRange{}, ErrInvalidRange
		}
		if n > size {
			n = size
		}
		return byteRange{Start: size - n, End: size - 1}, nil
	}

	start, ok := parsePos(startStr)
	if !ok {
		return byteRange{}, ErrMalformedRange
	}
	end := int64(-1)
	if endStr != "" {
		if end, ok = parsePos(endStr); !ok || end < start {
			return byteRange{}, ErrMalformedRange
		}
	}

	if start >= size {
		return byteRange{}, ErrInvalidRange
	}
	if end < 0 || end >= size {
		end = size - 1
	}
	return byteRange{Start: start, End: end}, nil
}

// parsePos parses a non-empty run of ASCII digits.
func parsePos(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func contentRange(r byteRange, size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

func unsatisfiedRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}
