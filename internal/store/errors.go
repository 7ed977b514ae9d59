package store

import "errors"

var (
	// ErrCacheMiss is returned when no cached audio exists for a hash
	ErrCacheMiss = errors.New("cache miss")

	// ErrInconsistentCache is returned when metadata references an audio
	// file that does not exist on disk
	ErrInconsistentCache = errors.New("cache metadata references missing audio file")
)
