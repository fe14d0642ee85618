package chat

import "errors"

// Stage markers wrapped around component errors so callers can tell where
// a turn failed. The underlying component error stays in the chain.
var (
	ErrRetrieval   = errors.New("retrieval stage failed")
	ErrGeneration  = errors.New("generation stage failed")
	ErrPersistence = errors.New("persistence stage failed")
)

// ErrEmptyMessage is returned when a chat or recommend request carries no
// text.
var ErrEmptyMessage = errors.New("message is empty")
