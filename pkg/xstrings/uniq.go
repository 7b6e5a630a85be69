package xstrings

type Comparable interface{ ~int | ~int64 | ~string }

// UniqueSlice returns s with duplicates removed, first occurrence wins.
func UniqueSlice[T Comparable](s []T) []T {
	seen := make(map[T]struct{}, len(s))
	out := make([]T, 0, len(s))
	for _, entry := range s {
		if _, ok := seen[entry]; ok {
			continue
		}
		seen[entry] = struct{}{}
		out = append(out, entry)
	}
	return out
}
