package processor

import "errors"

var (
	// ErrUnsupportedProcessor is returned for an unknown processor name, a
	// query kind the processor has no mapping for, or a node produced by a
	// different processor.
	ErrUnsupportedProcessor = errors.New("unsupported processor")

	// ErrInvalidQuery is returned when a path or style query does not compile.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrParse is returned when a document cannot be parsed.
	ErrParse = errors.New("cannot parse document")
)
