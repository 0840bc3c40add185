package domain

import (
	"errors"
	"fmt"
)

// ErrMissingPolygon means the region polygon could not be resolved from
// configuration. Fatal: no geofiltered file may be processed without it.
var ErrMissingPolygon = errors.New("region polygon not resolvable from configuration")

// ExtractionError wraps a failure to parse a source file. The orchestrator
// skips the file's whole group and continues with the next one.
type ExtractionError struct {
	Path string
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extracting %s: %v", e.Path, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}
