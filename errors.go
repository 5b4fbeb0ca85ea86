package marcidb

import (
	"errors"
	"fmt"
)

// SchemaErrorKind classifies schema registration failures. They are all
// fatal to startup: a schema that fails to register is never served.
type SchemaErrorKind int

const (
	SchemaDuplicateField SchemaErrorKind = iota
	SchemaDuplicateModel
	SchemaUnknownTarget
	SchemaUnknownField
	SchemaConflictingOrderPolicy
	SchemaInvalid
)

func (k SchemaErrorKind) String() string {
	switch k {
	case SchemaDuplicateField:
		return "duplicate field"
	case SchemaDuplicateModel:
		return "duplicate model"
	case SchemaUnknownTarget:
		return "unknown relation target"
	case SchemaUnknownField:
		return "unknown field"
	case SchemaConflictingOrderPolicy:
		return "conflicting order policy"
	default:
		return "invalid schema"
	}
}

type SchemaError struct {
	Kind  SchemaErrorKind
	Model string
	Field string
	Msg   string
}

func schemaErrf(kind SchemaErrorKind, model, field, format string, args ...any) error {
	return &SchemaError{kind, model, field, fmt.Sprintf(format, args...)}
}

func (e *SchemaError) Error() string {
	s := "schema: " + e.Kind.String()
	if e.Model != "" {
		s += ": " + e.Model
		if e.Field != "" {
			s += "." + e.Field
		}
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

// CodecError reports malformed on-disk bytes. It always means the
// key/value space is untrustworthy, so callers treat it as fatal and
// never retry.
type CodecError struct {
	Data []byte
	Off  int
	Msg  string
}

func codecErrf(data []byte, off int, format string, args ...any) error {
	return &CodecError{Data: data, Off: off, Msg: fmt.Sprintf(format, args...)}
}

func (e *CodecError) Error() string {
	const maxShown = 64
	if len(e.Data) > maxShown {
		return fmt.Sprintf("codec: %s at offset %d in (%d) %s...", e.Msg, e.Off, len(e.Data), hexstr(e.Data[:maxShown]))
	}
	return fmt.Sprintf("codec: %s at offset %d in (%d) %s", e.Msg, e.Off, len(e.Data), hexstr(e.Data))
}

// NotFoundError is a normal negative result: the referenced model,
// entity or relation target is absent.
type NotFoundError struct {
	Model string
	ID    EntityID
	What  string
}

func (e *NotFoundError) Error() string {
	if e.What != "" {
		return fmt.Sprintf("not found: %s", e.What)
	}
	return fmt.Sprintf("not found: %s/%d", e.Model, e.ID)
}

func notFound(model string, id EntityID) error {
	return &NotFoundError{Model: model, ID: id}
}

// ConstraintError rejects a write whose referential preconditions do not
// hold. The enclosing transaction is aborted; nothing is applied.
type ConstraintError struct {
	Model string
	Field string
	ID    EntityID
	Msg   string
}

func (e *ConstraintError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("constraint: %s.%s: %s", e.Model, e.Field, e.Msg)
	}
	return fmt.Sprintf("constraint: %s.%s references missing entity %d", e.Model, e.Field, e.ID)
}

// ErrConflict wraps an underlying-store conflict. The core does not
// retry; callers may repeat the whole logical operation.
var ErrConflict = errors.New("transaction conflict")

// ValidationError rejects a document that does not match its model
// before any key is written.
type ValidationError struct {
	Model string
	Field string
	Msg   string
}

func validationErrf(model, field, format string, args ...any) error {
	return &ValidationError{model, field, fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid document: %s.%s: %s", e.Model, e.Field, e.Msg)
	}
	return fmt.Sprintf("invalid document: %s: %s", e.Model, e.Msg)
}

// IsNotFound reports whether err is a negative lookup result rather than
// a failure.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsConstraint reports whether err is a rejected write due to a
// referential constraint.
func IsConstraint(err error) bool {
	var ce *ConstraintError
	return errors.As(err, &ce)
}
