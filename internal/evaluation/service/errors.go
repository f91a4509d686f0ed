package service

import (
	"context"
	"errors"

	dErrors "evalledger/pkg/domain-errors"
	"evalledger/pkg/platform/sentinel"
)

// wrapStoreErr translates store failures into domain errors. Errors that
// already carry a domain code pass through unchanged.
func wrapStoreErr(err error, notFound string) error {
	if err == nil {
		return nil
	}
	var de *dErrors.Error
	switch {
	case errors.As(err, &de):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, notFound)
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeConflict, "resource already exists")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "operation cancelled")
	default:
		return dErrors.Wrap(err, dErrors.CodeDependency, "persistence store unavailable")
	}
}

// wrapNameConflict names the conflicting field when a unique name is taken.
func wrapNameConflict(err error, message string) error {
	if errors.Is(err, sentinel.ErrAlreadyUsed) {
		return dErrors.ConflictOn("name", message)
	}
	return wrapStoreErr(err, "not found")
}
