// Package model defines the data structures shared by the coverage guard.
package model

// Path represents a file system path.
type Path string
