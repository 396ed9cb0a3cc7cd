package repository

import "errors"

var (
	// ErrNotFound indicates an entity was not located.
	ErrNotFound = errors.New("repository: not found")
	// ErrConflict indicates a uniqueness constraint rejected the write.
	ErrConflict = errors.New("repository: conflict")
	// ErrLastOwner indicates the write would leave a team without an OWNER.
	ErrLastOwner = errors.New("repository: team must keep an owner")
)
