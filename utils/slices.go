package utils

// DedupeFirst returns items with every element whose key was already seen
// removed. The first occurrence of each key wins and the order is preserved.
func DedupeFirst[T any, K comparable](items []T, key func(T) K) []T {
	seen := make(map[K]struct{}, len(items))
	out := make([]T, 0, len(items))
	for _, item := range items {
		k := key(item)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, item)
	}
	return out
}
