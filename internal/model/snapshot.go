package model

// LineCounts holds per-line execution counters for one file. Index i maps to
// line i+1; a nil entry marks a line without executable statements.
type LineCounts []*int64

// Count returns a counter pointer for use in LineCounts literals.
func Count(n int64) *int64 {
	return &n
}

// Uncovered returns the 1-based line numbers whose counter is exactly zero.
func (lc LineCounts) Uncovered() []int {
	var lines []int

	for i, c := range lc {
		if c != nil && *c == 0 {
			lines = append(lines, i+1)
		}
	}

	return lines
}

// Snapshot is the coverage recorded for the whole process, keyed by absolute
// source path. A missing key means the file was never loaded.
type Snapshot struct {
	Files map[Path]LineCounts
	// Preloaded lists files known to be part of the binary but built without
	// coverage counters.
	Preloaded map[Path]bool
}

// NewSnapshot returns an empty snapshot.
func NewSnapshot() Snapshot {
	return Snapshot{
		Files:     make(map[Path]LineCounts),
		Preloaded: make(map[Path]bool),
	}
}
