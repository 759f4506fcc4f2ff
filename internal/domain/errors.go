package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrNoData           = errors.New("no quote data")
	ErrInconsistentQuote = errors.New("inconsistent quote pair")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrLockHeld         = errors.New("lock already held")
)
