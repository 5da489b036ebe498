package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores return these (optionally
// wrapped) so services can tell a miss apart from a failure.
//
// For validation errors (bad input, malformed ids), use pkg/domain-errors.
var (
	ErrNotFound = errors.New("not found")
)
