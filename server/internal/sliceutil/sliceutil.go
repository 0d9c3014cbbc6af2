// Package sliceutil provides small slice helpers shared by the world's
// index bookkeeping and the server's roster management.
package sliceutil

import "cmp"

// Pop removes and returns the last element of *s. The second return value
// is false if the slice was empty.
func Pop[T any](s *[]T) (T, bool) {
	var zero T
	if len(*s) == 0 {
		return zero, false
	}
	last := (*s)[len(*s)-1]
	*s = (*s)[:len(*s)-1]
	return last, true
}

// InsertSorted inserts v into the sorted slice s, keeping it sorted and
// free of duplicates. It reports whether v was inserted.
func InsertSorted[T cmp.Ordered](s *[]T, v T) bool {
	lo, hi := 0, len(*s)
	for lo < hi {
		mid := (lo + hi) / 2
		if (*s)[mid] < v {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(*s) && (*s)[lo] == v {
		return false
	}
	*s = append(*s, v)
	copy((*s)[lo+1:], (*s)[lo:])
	(*s)[lo] = v
	return true
}

// FirstFunc returns the first element of s for which f returns true.
func FirstFunc[T any](s []T, f func(T) bool) (T, bool) {
	for _, v := range s {
		if f(v) {
			return v, true
		}
	}
	var zero T
	return zero, false
}
