package domain

import "errors"

// Validation errors returned by domain entity constructors.
var (
	// ErrTaskIDEmpty indicates a task without an identifier.
	ErrTaskIDEmpty = errors.New("task ID cannot be empty")

	// ErrTaskTypeEmpty indicates a task without a type tag.
	ErrTaskTypeEmpty = errors.New("task type cannot be empty")

	// ErrComponentRefEmpty indicates a task without a component reference.
	ErrComponentRefEmpty = errors.New("component reference cannot be empty")

	// ErrCharacteristicKeyEmpty indicates a characteristic without a key.
	ErrCharacteristicKeyEmpty = errors.New("characteristic key cannot be empty")
)
