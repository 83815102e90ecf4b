package transpiler

import (
	"errors"
	"fmt"
)

// Compile errors. All of them are reported before any SQL is executed.
var (
	// ErrSchemaMismatch: the document references a field, type or fragment
	// the schema does not define.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrMissingRelation: a composite field has no select function.
	ErrMissingRelation = errors.New("missing relation")
	// ErrUnsupportedFieldShape: a field's type or select result cannot be
	// wrapped as JSON.
	ErrUnsupportedFieldShape = errors.New("unsupported field shape")
	// ErrScalarNotAllowedAtRoot: root fields must be backed by a relation.
	ErrScalarNotAllowedAtRoot = errors.New("scalar field not allowed on root type")
	// ErrInvalidArgument: an argument or variable could not be coerced to
	// its declared input type.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Error carries the type and field a compile error was raised for.
// errors.Is matches it against its Kind.
type Error struct {
	Kind   error
	Type   string
	Field  string
	Detail string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Type)
	if e.Field != "" {
		msg += "." + e.Field
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, typeName, field, format string, args ...any) *Error {
	return &Error{
		Kind:   kind,
		Type:   typeName,
		Field:  field,
		Detail: fmt.Sprintf(format, args...),
	}
}
