// Package errs defines the sentinel error taxonomy shared by every layer of
// the engine. Call sites wrap a sentinel with operation context via
// fmt.Errorf("%s: %w", op, sentinel) and callers unwrap with errors.Is, the
// same pattern the rest of this codebase uses for its storage layer.
package errs

import "errors"

// Validation errors.
var (
	ErrInvalidKey                   = errors.New("invalid key")
	ErrPutPhantomWithoutGenerationId = errors.New("phantom put requires an explicit generation id")
	ErrCannotPutInManualCollection  = errors.New("cannot put into manual collection without an explicit generation id")
	ErrOutdatedGeneration           = errors.New("outdated generation")
	ErrGenerationIdLessThanMinimum  = errors.New("generation id less than minimum")
)

// Lifecycle errors.
var (
	ErrNoSuchCollection  = errors.New("no such collection")
	ErrAlreadyExists     = errors.New("already exists")
	ErrNoSuchReader      = errors.New("no such reader")
	ErrReaderAlreadyExists = errors.New("reader already exists")
)

// Cursor errors.
var (
	ErrNoSuchCursor    = errors.New("no such cursor")
	ErrAlreadyFinished = errors.New("cursor already finished")
	ErrNotYetFinished  = errors.New("cursor not yet finished")
)

// Internal errors: corruption or programmer error, fatal to the request but
// not to the process.
var (
	ErrCursorDidNotFindRecord   = errors.New("cursor did not find record")
	ErrInvalidRecordKey         = errors.New("invalid record key")
	ErrInvalidGenerationKey     = errors.New("invalid generation key")
	ErrDiffNoChangedKeyRecord   = errors.New("diff: no record for changed key")
	ErrUnsupportedSchemaVersion = errors.New("unsupported collection schema version")
)

// Store wraps an opaque error returned by the underlying Store. It is never
// retried at this layer; callers that need errors.Is against the wrapped
// cause can still reach it because Store implements Unwrap.
type Store struct {
	Op   string
	Err  error
}

func (e *Store) Error() string {
	if e.Op == "" {
		return "store error: " + e.Err.Error()
	}
	return e.Op + ": store error: " + e.Err.Error()
}

func (e *Store) Unwrap() error { return e.Err }

// WrapStore wraps err (if non-nil) as a *Store error tagged with op.
func WrapStore(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Store{Op: op, Err: err}
}
