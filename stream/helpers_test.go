package stream

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_clampRange(t *testing.T) {
	const total = 1000
	full := byteRange{start: 0, end: 999}

	testCases := map[string]struct {
		in   byteRange
		want byteRange
	}{
		"within bounds":    {in: byteRange{100, 199}, want: byteRange{100, 199}},
		"single byte":      {in: byteRange{5, 5}, want: byteRange{5, 5}},
		"last byte":        {in: byteRange{999, 999}, want: byteRange{999, 999}},
		"end beyond EOF":   {in: byteRange{900, 2000}, want: byteRange{900, 999}},
		"open end":         {in: byteRange{100, math.MaxInt64}, want: byteRange{100, 999}},
		"start beyond EOF": {in: byteRange{1000, 1200}, want: full},
		"inverted":         {in: byteRange{500, 100}, want: full},
		"negative start":   {in: byteRange{-10, 100}, want: full},
		"negative end":     {in: byteRange{10, -1}, want: full},
		"both beyond EOF":  {in: byteRange{2000, 3000}, want: full},
		"whole resource":   {in: byteRange{0, 999}, want: full},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			got := clampRange(tc.in, total)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, got.end-got.start+1, got.size())
		})
	}
}

func Test_clampRange_EmptyResource(t *testing.T) {
	got := clampRange(byteRange{0, 10}, 0)
	assert.Equal(t, byteRange{start: 0, end: -1}, got)
	assert.Zero(t, got.size())
}

func Test_parseRangeHeader(t *testing.T) {
	testCases := map[string]struct {
		header  string
		want    byteRange
		present bool
		invalid bool
	}{
		"absent":            {header: "", present: false},
		"simple":            {header: "bytes=100-199", want: byteRange{100, 199}, present: true},
		"padded":            {header: " bytes= 0 - 9 ", want: byteRange{0, 9}, present: true},
		"open end":          {header: "bytes=100-", want: byteRange{100, math.MaxInt64}, present: true},
		"inverted parses":   {header: "bytes=9-1", want: byteRange{9, 1}, present: true},
		"wrong unit":        {header: "items=0-1", present: true, invalid: true},
		"missing prefix":    {header: "0-1", present: true, invalid: true},
		"no dash":           {header: "bytes=100", present: true, invalid: true},
		"suffix form":       {header: "bytes=-500", want: byteRange{-1, 500}, present: true},
		"negative start":    {header: "bytes=-5-10", want: byteRange{-5, 10}, present: true},
		"negative end":      {header: "bytes=0--5", want: byteRange{0, -5}, present: true},
		"both missing":      {header: "bytes=-", want: byteRange{-1, math.MaxInt64}, present: true},
		"overflowing end":   {header: "bytes=0-99999999999999999999", want: byteRange{0, math.MaxInt64}, present: true},
		"overflowing start": {header: "bytes=99999999999999999999-", want: byteRange{math.MaxInt64, math.MaxInt64}, present: true},
		"multiple ranges":   {header: "bytes=0-1,5-6", present: true, invalid: true},
		"non numeric start": {header: "bytes=a-10", present: true, invalid: true},
		"non numeric end":   {header: "bytes=0-z", present: true, invalid: true},
		"bare sign":         {header: "bytes=--", present: true, invalid: true},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			got, present, err := parseRangeHeader(tc.header)
			assert.Equal(t, tc.present, present)

			if tc.invalid {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrRangeNotSatisfiable))
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func Test_throttle(t *testing.T) {
	chunk, pause := throttle(10)
	assert.Equal(t, 1024, chunk)
	assert.Equal(t, 99850*time.Microsecond, pause)

	chunk, _ = throttle(1)
	assert.Equal(t, 102, chunk)

	chunk, _ = throttle(3)
	assert.Equal(t, 307, chunk)
}

func Test_mimeByExtension(t *testing.T) {
	assert.Equal(t, "text/csv", mimeByExtension("csv"))
	assert.Equal(t, "application/pdf", mimeByExtension("pdf"))
	assert.Equal(t, OctetStream, mimeByExtension(""))
	assert.Equal(t, OctetStream, mimeByExtension("notarealextension"))
}

func Test_sniffMIME(t *testing.T) {
	png := []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")
	assert.Equal(t, "image/png", sniffMIME(png))
	assert.Equal(t, OctetStream, sniffMIME(nil))
}
