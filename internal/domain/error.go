package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrAlreadyExists   = errors.New("entity already exists")
	ErrInvalidArgument = errors.New("invalid argument")

	// Payments
	ErrPlanInactive       = errors.New("plan is not active")
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
	ErrGatewayRejected    = errors.New("payment gateway rejected request")
	ErrInvalidTransition  = errors.New("invalid payment status transition")

	// Sessions / router
	ErrActiveSessionExists = errors.New("an active session already exists for this user and plan")
	ErrRouterUnavailable   = errors.New("router unavailable")

	// Persistence
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrLockNotAcquired    = errors.New("lock not acquired")
)
