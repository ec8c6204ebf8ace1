package model

// Status is the outcome of checking a single declaration.
type Status int

const (
	// StatusOK means the uncovered count matched the declaration.
	StatusOK Status = iota
	// StatusMismatch means the uncovered count differed from the declaration.
	StatusMismatch
	// StatusNotLoaded means the snapshot had no entry for the file.
	StatusNotLoaded
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusMismatch:
		return "mismatch"
	case StatusNotLoaded:
		return "not loaded"
	default:
		return "unknown"
	}
}

// Verdict is the result of reconciling one declaration against a snapshot.
type Verdict struct {
	Declaration    Declaration
	Status         Status
	Actual         int
	UncoveredLines []int
	Soft           bool   // reported but does not fail the run
	Details        string // diagnostic text, empty for StatusOK
}
