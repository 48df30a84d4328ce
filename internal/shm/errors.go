package shm

import "github.com/pkg/errors"

var (
	ErrDestroyed     = errors.New("shm: region already released")
	ErrNotOwner      = errors.New("shm: region is not owned by this process")
	ErrBadGeometry   = errors.New("shm: width and height must be positive")
	ErrTooLarge      = errors.New("shm: segment size does not fit the descriptor")
	ErrNameTooLong   = errors.New("shm: segment name does not fit the descriptor")
	ErrOutOfBounds   = errors.New("shm: plane lies outside the mapping")
	ErrSizeMismatch  = errors.New("shm: mapped header disagrees with descriptor size")
	ErrBadDescriptor = errors.New("shm: malformed descriptor")
)
