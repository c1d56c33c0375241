// Package indicator provides streaming technical indicators.
//
// Indicators are updated one price at a time and keep only their live value; callers that
// need the previous reading must capture it before the next Update.
package indicator

import "errors"

// ErrInvalidLength is returned when an averaging length is not positive.
var ErrInvalidLength = errors.New("indicator length must be positive")

// Indicator is anything that consumes prices and exposes its latest reading.
type Indicator[R any] interface {
	Update(value float64)
	Result() R
}

// Average is the reading of a moving average. Seeded is false until the first Update.
type Average struct {
	Value  float64
	Seeded bool
}
