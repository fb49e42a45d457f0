package lance

import (
	"errors"

	"github.com/PromaChow/lance/artifact"
	"github.com/PromaChow/lance/index"
)

// The error kinds of the sub-packages are re-exported here so callers only
// need this package for error handling.

// ErrNotBuilt is returned when an index is used before training.
var ErrNotBuilt = index.ErrNotBuilt

// ErrNotFound is returned when a row id does not exist.
var ErrNotFound = errors.New("not found")

type (
	// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
	ErrDimensionMismatch = index.ErrDimensionMismatch

	// ErrInvalidParameter indicates an out-of-range or inconsistent
	// parameter; the call was rejected before any state change.
	ErrInvalidParameter = index.ErrInvalidParameter

	// ErrInsufficientTrainingData indicates a training sample smaller than
	// the requested model requires.
	ErrInsufficientTrainingData = index.ErrInsufficientTrainingData

	// ErrFormatMismatch indicates an artifact that cannot be loaded.
	ErrFormatMismatch = artifact.ErrFormatMismatch
)

// IsFormatMismatch reports whether err is an artifact format mismatch.
func IsFormatMismatch(err error) bool {
	var fm *ErrFormatMismatch
	return errors.As(err, &fm)
}
