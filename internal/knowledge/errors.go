package knowledge

import "errors"

var (
	// ErrNotFound is returned when no item matches the lookup.
	ErrNotFound = errors.New("knowledge item not found")

	// ErrEmptyContent is returned when an item is created without content.
	ErrEmptyContent = errors.New("knowledge content is empty")

	// ErrInvalidSource is returned for an unknown provenance value.
	ErrInvalidSource = errors.New("invalid knowledge source")

	// ErrBatchRunning is returned when a backlog run is already in
	// progress on this host.
	ErrBatchRunning = errors.New("vectorization batch already running")
)
