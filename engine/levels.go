package engine

import "sort"

// DefaultLevels are the Maia skill levels with published weights.
var DefaultLevels = []int{1100, 1200, 1300, 1400, 1500, 1600, 1700, 1800, 1900}

// Levels is the fixed set of supported skill levels.
type Levels struct {
	set    map[int]struct{}
	sorted []int
}

// NewLevels builds a Levels set. Duplicates are ignored.
func NewLevels(levels ...int) Levels {
	l := Levels{set: make(map[int]struct{}, len(levels))}
	for _, v := range levels {
		if _, ok := l.set[v]; ok {
			continue
		}
		l.set[v] = struct{}{}
		l.sorted = append(l.sorted, v)
	}
	sort.Ints(l.sorted)
	return l
}

// Contains reports whether level is supported.
func (l Levels) Contains(level int) bool {
	_, ok := l.set[level]
	return ok
}

// All returns the supported levels in ascending order.
func (l Levels) All() []int {
	out := make([]int, len(l.sorted))
	copy(out, l.sorted)
	return out
}
