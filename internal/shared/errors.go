package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrConcurrentModification signals a conflicting write. Callers retry the whole operation.
	ErrConcurrentModification = errors.New("concurrent modification")
	// ErrActorRequired is returned when a mutating call has no actor identity.
	ErrActorRequired = errors.New("actor identity required")
)
