// Package ids provides a total order over platform message identifiers.
//
// Message ids are opaque decimal-digit strings that grow monotonically and can
// exceed the range of a 64-bit integer, so they are never parsed numerically.
// A longer digit string is always the larger id (ids never carry leading
// zeros); equal-length strings compare lexicographically, which matches
// numeric order for non-negative decimals.
package ids

// The empty string represents an absent id and acts as the identity for Max
// and Min: Max("", x) == x and Min("", x) == x.

// Max returns the larger of two message ids.
func Max(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}

	if len(a) < len(b) {
		return b
	}
	if len(a) > len(b) {
		return a
	}

	if a < b {
		return b
	}
	return a
}

// Min returns the smaller of two message ids.
func Min(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}

	if len(a) < len(b) {
		return a
	}
	if len(a) > len(b) {
		return b
	}

	if a < b {
		return a
	}
	return b
}

// Compare returns -1, 0 or 1 as a orders before, equal to or after b.
func Compare(a, b string) int {
	if a == b {
		return 0
	}
	if Max(a, b) == a {
		return 1
	}
	return -1
}

// Less reports whether a orders strictly before b, for use with sort.Slice.
func Less(a, b string) bool {
	return Compare(a, b) < 0
}
