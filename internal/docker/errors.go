package docker

import (
	"errors"

	"github.com/docker/docker/errdefs"
)

var (
	// ErrNotFound indicates the requested Docker resource was not found.
	ErrNotFound = errors.New("docker: resource not found")
	// ErrNoImageID is returned when a build stream finishes without reporting an image.
	ErrNoImageID = errors.New("docker: build produced no image id")
)

func notFound(err error) bool {
	return errdefs.IsNotFound(err)
}
