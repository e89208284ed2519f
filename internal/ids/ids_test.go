package ids

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMax(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected string
	}{
		{name: "both absent", a: "", b: "", expected: ""},
		{name: "first absent", a: "", b: "123", expected: "123"},
		{name: "second absent", a: "123", b: "", expected: "123"},
		{name: "numeric order", a: "123", b: "456", expected: "456"},
		{name: "length wins over lexicographic", a: "1230", b: "999", expected: "1230"},
		{name: "equal length lexicographic", a: "1500", b: "1499", expected: "1500"},
		{name: "equal values", a: "42", b: "42", expected: "42"},
		{name: "beyond 53-bit range", a: "9007199254740993", b: "9007199254740992", expected: "9007199254740993"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Max(tt.a, tt.b))
		})
	}
}

func TestMin(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected string
	}{
		{name: "both absent", a: "", b: "", expected: ""},
		{name: "first absent", a: "", b: "123", expected: "123"},
		{name: "second absent", a: "123", b: "", expected: "123"},
		{name: "numeric order", a: "123", b: "0", expected: "0"},
		{name: "length wins", a: "999", b: "1230", expected: "999"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Min(tt.a, tt.b))
		})
	}
}

func TestCompareTotalOrder(t *testing.T) {
	values := []string{"0", "9", "10", "99", "100", "123", "456", "999", "1230", "9007199254740993"}

	for _, a := range values {
		assert.Equal(t, 0, Compare(a, a), "Compare(%s, %s)", a, a)

		for _, b := range values {
			assert.Equal(t, Compare(a, b), -Compare(b, a), "antisymmetry for %s, %s", a, b)

			// Max and Min must agree with Compare.
			if Compare(a, b) >= 0 {
				assert.Equal(t, a, Max(a, b))
				assert.Equal(t, b, Min(a, b))
			} else {
				assert.Equal(t, b, Max(a, b))
				assert.Equal(t, a, Min(a, b))
			}

			for _, c := range values {
				if Compare(a, b) <= 0 && Compare(b, c) <= 0 {
					assert.True(t, Compare(a, c) <= 0, "transitivity for %s <= %s <= %s", a, b, c)
				}
			}
		}
	}
}

func TestCompareAbsent(t *testing.T) {
	assert.Equal(t, -1, Compare("", "5"))
	assert.Equal(t, 1, Compare("5", ""))
	assert.Equal(t, 0, Compare("", ""))
}

func TestLessSortsOldestFirst(t *testing.T) {
	got := []string{"1230", "99", "456", "100"}
	sort.Slice(got, func(i, j int) bool { return Less(got[i], got[j]) })
	assert.Equal(t, []string{"99", "100", "456", "1230"}, got)
}
