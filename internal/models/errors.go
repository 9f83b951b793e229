package models

import (
	"errors"
	"fmt"
)

// Error classes. Callers match them with errors.Is.
var (
	ErrConfig         = errors.New("configuration error")
	ErrConnection     = errors.New("connection error")
	ErrPermission     = errors.New("permission denied")
	ErrObjectNotFound = errors.New("object not found")
	ErrEncrypted      = errors.New("object definition is encrypted")
	ErrEncoding       = errors.New("encoding error")
	ErrIO             = errors.New("i/o error")
	ErrNotConfirmed   = errors.New("operation not confirmed")
	ErrExportFailed   = errors.New("export failed")
)

// ObjectError ties an error to the category and object it happened on.
type ObjectError struct {
	Kind ObjectKind
	Ref  SchemaObjectRef
	Err  error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Kind, e.Ref, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// Classify returns the error class of err, or nil if it has none.
func Classify(err error) error {
	for _, class := range []error{
		ErrConfig, ErrConnection, ErrPermission, ErrObjectNotFound,
		ErrEncrypted, ErrEncoding, ErrIO, ErrNotConfirmed, ErrExportFailed,
	} {
		if errors.Is(err, class) {
			return class
		}
	}
	return nil
}
