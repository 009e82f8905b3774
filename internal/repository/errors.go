package repository

import "errors"

// ErrNotFound indicates a deployment was not located.
var ErrNotFound = errors.New("repository: not found")

// ErrDuplicate indicates a record with the same unique key already exists.
var ErrDuplicate = errors.New("repository: duplicate")
