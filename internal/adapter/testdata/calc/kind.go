package calc

// Kind classifies an operation.
type Kind int

const (
	Sum Kind = iota
	Quotient
)
