package cell

import "errors"

// Common errors
var (
	// ErrNotFound is returned when a column is not registered on the table.
	// Missing cell values are not an error; reads return Absent instead.
	ErrNotFound = errors.New("column not found")

	// ErrColumnExists is returned when registering a column whose name is
	// already taken.
	ErrColumnExists = errors.New("column already exists")

	// ErrReadOnly is returned by mutating operations on a read-only table.
	ErrReadOnly = errors.New("table is read-only")

	// ErrClosed is returned when operating on a table after Close.
	ErrClosed = errors.New("table is closed")
)
