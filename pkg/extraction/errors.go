package extraction

import (
	"errors"
	"fmt"
)

// Kind classifies extraction failures.
type Kind string

const (
	KindInput           Kind = "InputError"
	KindInference       Kind = "InferenceError"
	KindSchemaViolation Kind = "SchemaViolation"
)

var (
	ErrEmptyInput      = errors.New("extraction: empty input")
	ErrInference       = errors.New("extraction: inference failed")
	ErrSchemaViolation = errors.New("extraction: output violates case record schema")
)

// Error 抽取错误，Detail 描述具体原因
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrEmptyInput:
		return e.Kind == KindInput
	case ErrInference:
		return e.Kind == KindInference
	case ErrSchemaViolation:
		return e.Kind == KindSchemaViolation
	}
	return false
}

func violation(format string, args ...any) *Error {
	return &Error{Kind: KindSchemaViolation, Detail: fmt.Sprintf(format, args...)}
}
