package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrPartialFill         = errors.New("partial fill")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicatePosition   = errors.New("open position already exists for pair")
	ErrNoPosition          = errors.New("no open position for pair")
	ErrPositionCapExceeded = errors.New("position cap exceeded")
	ErrBreakerTripped      = errors.New("circuit breaker tripped")
	ErrLockHeld            = errors.New("lock already held")
	ErrNotSettled          = errors.New("position not yet past settlement")
)
