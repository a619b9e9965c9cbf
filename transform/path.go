package transform

import (
	"strconv"
	"strings"
)

// lookup walks a dot separated path through nested maps and slices. Numeric
// segments index slices. found is false when any segment is absent; a present
// JSON null is returned as (nil, true).
func lookup(raw map[string]any, path string) (value any, found bool) {
	var cur any = raw
	for _, seg := range strings.Split(path, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(node) {
				return nil, false
			}
			cur = node[i]
		default:
			return nil, false
		}
	}
	return cur, true
}
