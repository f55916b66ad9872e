package policy

import "errors"

// ErrETagMismatch is returned by Store.Save when the caller's expected
// ETag no longer matches the current document (optimistic concurrency
// failure, spec.md §4.1).
var ErrETagMismatch = errors.New("policy: etag mismatch")

// ErrInvalidDocument is returned by Store.Save when the merged document
// fails structural validation.
var ErrInvalidDocument = errors.New("policy: invalid document")

// DeniedError is returned by can_execute / can_approve when RBAC or a
// payload rule denies the request, following the teacher's typed-error
// convention (engine.go's DeniedError).
type DeniedError struct {
	Reason string
}

func (e *DeniedError) Error() string { return "policy: denied: " + e.Reason }

// IsDenied reports whether err is (or wraps) a *DeniedError.
func IsDenied(err error) bool {
	var de *DeniedError
	return errors.As(err, &de)
}
