package data

import "errors"

// Shared sentinel errors for the in-memory stores.
var (
	ErrJobIDRequired = errors.New("job id is required")
	ErrJobExists     = errors.New("job already exists")
)
