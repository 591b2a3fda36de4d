// Package kgerrors defines the error taxonomy shared by every component of
// the ingestion and query orchestrator. Callers should compare kinds with
// errors.Is against the sentinel values below rather than switching on
// concrete types.
package kgerrors

import "errors"

// Sentinel errors, one per taxonomy entry. Wrap them with %w so
// errors.Is keeps working through the call stack.
var (
	ErrSchemaInvalid            = errors.New("schema invalid")
	ErrPathInvalid               = errors.New("path expression invalid")
	ErrKBNotFound                = errors.New("knowledge base not found")
	ErrUnknownSource             = errors.New("unknown source")
	ErrConnectorUnavailable      = errors.New("connector unavailable")
	ErrConnectorResponseTooLarge = errors.New("connector response too large")
	ErrConnectorMalformed        = errors.New("connector response malformed")
	ErrEmbeddingUnavailable      = errors.New("embedding provider unavailable")
	ErrEmbeddingDimensionMismatch = errors.New("embedding dimension mismatch")
	ErrStoreUnavailable          = errors.New("graph store unavailable")
	ErrConstraintViolation       = errors.New("graph store constraint violation")
	ErrQueryInvalid              = errors.New("query invalid")
	ErrQueryNotReadOnly          = errors.New("query is not read-only")
	ErrDocumentMapping           = errors.New("document mapping error")
	ErrCancelled                 = errors.New("operation cancelled")
	ErrTimeout                   = errors.New("operation timed out")
	ErrProcessCrashed            = errors.New("run orphaned by process crash")
)

// Op wraps err with an operation name for logging/debugging while preserving
// errors.Is/As against the original sentinel.
func Op(op string, err error) error {
	if err == nil {
		return nil
	}
	return &opError{op: op, err: err}
}

type opError struct {
	op  string
	err error
}

func (e *opError) Error() string { return e.op + ": " + e.err.Error() }
func (e *opError) Unwrap() error { return e.err }

// Kind returns the taxonomy sentinel most specifically matching err, or nil
// if err does not match any known kind.
func Kind(err error) error {
	for _, k := range []error{
		ErrSchemaInvalid, ErrPathInvalid, ErrKBNotFound, ErrUnknownSource,
		ErrConnectorUnavailable, ErrConnectorResponseTooLarge, ErrConnectorMalformed,
		ErrEmbeddingUnavailable, ErrEmbeddingDimensionMismatch,
		ErrStoreUnavailable, ErrConstraintViolation,
		ErrQueryInvalid, ErrQueryNotReadOnly, ErrDocumentMapping,
		ErrCancelled, ErrTimeout, ErrProcessCrashed,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
