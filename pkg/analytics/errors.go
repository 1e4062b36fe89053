package analytics

import "errors"

var (
	ErrMissingTenant = errors.New("tenant id is required")
	ErrInvalidRange  = errors.New("invalid date range")
	ErrUnknownScope  = errors.New("unknown report scope")
	ErrInvalidPlan   = errors.New("invalid plan tier")
)
