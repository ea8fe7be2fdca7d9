package schema

import (
	"errors"
	"fmt"
)

// ErrMalformedResponse means the model answered but the reply was not a
// JSON object. It is distinct from provider failures.
var ErrMalformedResponse = errors.New("AI response is not valid JSON")

// ShapeError reports a parsed schema that cannot be executed.
type ShapeError struct {
	Reason string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("invalid extraction schema: %s", e.Reason)
}

func shapeErrorf(format string, args ...any) error {
	return &ShapeError{Reason: fmt.Sprintf(format, args...)}
}
