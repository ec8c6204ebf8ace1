package model

// Declaration is a registered expectation that File has exactly Uncovered
// lines without coverage once the test binary finishes.
type Declaration struct {
	File      Path // relative to the project root
	Uncovered int
	Origin    Path // declaring test file, empty when the file was given explicitly
}

// DeclarationCall is a declaration found by scanning a test file without
// executing it.
type DeclarationCall struct {
	Test       Path
	File       Path // explicit file argument, empty when it must be resolved from Test
	Uncovered  int
	NotCovered bool
	Line       int
}
