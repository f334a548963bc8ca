package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrRateLimited      = errors.New("rate limited")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrInvalidConfig    = errors.New("invalid detection config")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrFeedDisconnected = errors.New("feed disconnected")
	ErrRetriesExhausted = errors.New("reconnect retries exhausted")
	ErrEngineStopped    = errors.New("detection engine stopped")
	ErrTimeout          = errors.New("timed out")
)
