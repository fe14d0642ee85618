package embedding

import "errors"

var (
	// ErrEmptyText is returned when the input has no embeddable content.
	ErrEmptyText = errors.New("text is empty")

	// ErrDimension is returned when a model produces a vector whose length
	// does not match the configured dimension.
	ErrDimension = errors.New("embedding dimension mismatch")

	// ErrUnavailable is returned when the embedding provider cannot be
	// reached or fails to respond.
	ErrUnavailable = errors.New("embedding provider unavailable")
)
