package stream

import (
	"errors"
	"math"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
)

const rangePrefix = "bytes="

// rangeBounds matches start-end where either bound may be empty or negative.
var rangeBounds = regexp.MustCompile(`^\s*(-?\d*)\s*-\s*(-?\d*)\s*$`)

// parseRangeHeader parses a single-range header of the form bytes=S-E.
// The boolean result is false when the header is absent. Bounds are not
// checked against the resource here: an empty or negative start yields a
// range that clampRange widens to the whole resource, and an open or
// overflowing end runs to the last byte.
func parseRangeHeader(header string) (byteRange, bool, error) {
	header = textproto.TrimString(header)
	if header == "" {
		return byteRange{}, false, nil
	}
	if !strings.HasPrefix(header, rangePrefix) {
		return byteRange{}, true, NewHTTPError(ErrRangeNotSatisfiable, "range unit must be bytes")
	}

	m := rangeBounds.FindStringSubmatch(header[len(rangePrefix):])
	if m == nil {
		return byteRange{}, true, NewHTTPError(ErrRangeNotSatisfiable, "range must be a single start-end pair")
	}

	start, err := parseBound(m[1], -1)
	if err != nil {
		return byteRange{}, true, NewHTTPError(ErrRangeNotSatisfiable, "invalid range start")
	}
	end, err := parseBound(m[2], math.MaxInt64)
	if err != nil {
		return byteRange{}, true, NewHTTPError(ErrRangeNotSatisfiable, "invalid range end")
	}

	return byteRange{start: start, end: end}, true, nil
}

// parseBound parses one side of a range, returning missing when s is empty.
// Values beyond int64 saturate.
func parseBound(s string, missing int64) (int64, error) {
	if s == "" {
		return missing, nil
	}

	n, err := strconv.ParseInt(s, 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		return n, nil
	}
	return n, err
}
