package storage

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists is returned when an insert hits a uniqueness
	// constraint.
	ErrAlreadyExists = errors.New("resource already exists")
)
