// Package calc is a small package guarded by covguard.
package calc

import "errors"

var errDivByZero = errors.New("division by zero")

// Add returns a+b.
func Add(a, b int) int {
	return a + b
}

// Div returns a/b.
func Div(a, b int) (int, error) {
	if b == 0 {
		return 0, errDivByZero // uncovered
	}

	return a / b, nil
}
