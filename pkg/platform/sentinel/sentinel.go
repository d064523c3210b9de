package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Request stores and other adapters
// return these (optionally wrapped) so the quorum service can translate them
// into coded domain errors.
//
// They describe the state of a record, not the validity of a command:
//   - ErrNotFound: no record with that id
//   - ErrConflict: the stored version no longer matches the caller's expected version
//   - ErrAlreadyUsed: a record with that id already exists
//   - ErrUnavailable: the backing store cannot be reached right now
//
// For validation errors (bad input, illegal transitions), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("version conflict")
	ErrAlreadyUsed = errors.New("already exists")
	ErrUnavailable = errors.New("unavailable")
)
