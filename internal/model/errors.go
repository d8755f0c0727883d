package model

import "errors"

// Error classes shared by every component. Wrap with fmt.Errorf("...: %w")
// and classify with errors.Is.
var (
	ErrDataUnavailable = errors.New("data unavailable")
	ErrPersistence     = errors.New("persistence error")
	ErrDelivery        = errors.New("delivery error")
	ErrConfiguration   = errors.New("configuration error")

	ErrActiveExists = errors.New("active opportunity already exists")
	ErrNotFound     = errors.New("not found")
)
