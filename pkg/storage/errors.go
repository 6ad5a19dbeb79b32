package storage

import (
	"errors"
	"fmt"
)

var (
	// Registry errors

	// ErrCollision if a model with the same name or content type is already registered.
	ErrCollision = errors.New("item already exists")
	// ErrInvalidModel if a model declaration references columns it does not have.
	ErrInvalidModel = errors.New("invalid model")

	// Read errors

	// ErrFieldDoesNotExist if a name is not a relation of the model it was looked up on.
	ErrFieldDoesNotExist = errors.New("field does not exist")
	// ErrUnsupportedRelation if an operation does not apply to the kind of relation.
	ErrUnsupportedRelation = errors.New("unsupported relation")
	// ErrInvalidLookup if a select or prefetch lookup does not resolve to relations.
	ErrInvalidLookup = errors.New("invalid lookup")

	// Shared errors

	ErrCancelled = errors.New("request has been cancelled")
	ErrNotFound  = errors.New("not found")
)

func fieldDoesNotExistError(model *Model, name string) error {
	return fmt.Errorf("%s has no relation %q: %w", model.Name, name, ErrFieldDoesNotExist)
}

func invalidLookupError(lookup, reason string) error {
	return fmt.Errorf("lookup %q %s: %w", lookup, reason, ErrInvalidLookup)
}
