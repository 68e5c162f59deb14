package repository

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("entity not found")

	// ErrActiveAssignmentExists is returned when inserting an assignment for a
	// request that already has an active one.
	ErrActiveAssignmentExists = errors.New("request already has an active assignment")

	// ErrVersionConflict is returned when a conditional update finds the row
	// changed since it was read.
	ErrVersionConflict = errors.New("row version conflict")
)
