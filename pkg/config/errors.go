package config

import "errors"

var (
	// ErrMissingStoreURL is returned when the store URL is not set.
	ErrMissingStoreURL = errors.New("store url is required")

	// ErrInMemoryStore is returned when the store URL names an in-memory database.
	ErrInMemoryStore = errors.New("store url must not be in-memory; orco's store must survive process restart")

	// ErrInvalidPoolSize is returned when the pool size is invalid.
	ErrInvalidPoolSize = errors.New("pool size must be greater than 0")
)
