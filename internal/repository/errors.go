package repository

import "errors"

// ErrNotFound indicates an entity was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrAlreadyExists indicates a create collided with an existing name.
var ErrAlreadyExists = errors.New("repository: already exists")

// ErrInvalidArgument indicates a malformed identifier or value.
var ErrInvalidArgument = errors.New("repository: invalid argument")
