package record

import (
	"errors"

	"univera-backend/internal/schema"
)

// ErrSchemaNotFound means the entity is not registered for the caller's
// tenant.
var ErrSchemaNotFound = errors.New("entity schema not found")

// ErrNotFound means no record with the given id exists for (tenant, entity).
var ErrNotFound = errors.New("record not found")

// ValidationError carries every failing field from a create or update, not
// just the first.
type ValidationError struct {
	Details []schema.FieldError
}

func (e *ValidationError) Error() string {
	return "record validation failed"
}
