// Package version compares dotted version and build-number strings.
//
// Comparison is segment-wise numeric after right-padding the shorter
// sequence with zeros, so "0.1" equals "0.1.0" and "2" ranks above "1.9".
// Build stamps such as "20220127.164156" compare the same way.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Compare returns -1, 0 or 1 depending on whether a sorts before, equal
// to, or after b. Segments must be non-negative integers separated by
// dots; anything else is a malformed-input error. The empty string is
// treated as "0".
func Compare(a, b string) (int, error) {
	as, err := segments(a)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", a, err)
	}
	bs, err := segments(b)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", b, err)
	}

	// Zero-pad the shorter sequence so "0.1" and "0.1.0" align.
	for len(as) < len(bs) {
		as = append(as, 0)
	}
	for len(bs) < len(as) {
		bs = append(bs, 0)
	}

	for i := range as {
		switch {
		case as[i] < bs[i]:
			return -1, nil
		case as[i] > bs[i]:
			return 1, nil
		}
	}
	return 0, nil
}

// Equal reports whether a and b are numerically equal.
func Equal(a, b string) (bool, error) {
	c, err := Compare(a, b)
	return c == 0, err
}

func segments(s string) ([]uint64, error) {
	if s == "" {
		return []uint64{0}, nil
	}

	parts := strings.Split(s, ".")
	segs := make([]uint64, len(parts))
	for i, p := range parts {
		n, err := strconv.ParseUint(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("segment %q is not a non-negative integer", p)
		}
		segs[i] = n
	}
	return segs, nil
}
