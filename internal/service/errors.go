package service

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// ErrValidation is matched by every *ValidationError.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound indicates the stream, viewer session or message does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrStreamClosed indicates the stream is not in a state that accepts the operation.
	ErrStreamClosed = errors.New("stream is no longer accepting viewers")
	// ErrConflict indicates an illegal stream status transition.
	ErrConflict = errors.New("stream status transition not allowed")
	// ErrUnauthenticated indicates the operation requires an authenticated user.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrThrottled indicates the caller reacted again within the throttle window.
	ErrThrottled = errors.New("reaction throttled, slow down")
)

// Closed errors carry an operation specific message but match ErrStreamClosed.
var (
	ErrChatUnavailable      error = closedError("chat is only available during live streams")
	ErrReactionsUnavailable error = closedError("reactions are only available during live streams")
)

type closedError string

func (e closedError) Error() string { return string(e) }

func (e closedError) Is(target error) bool { return target == ErrStreamClosed }

// ValidationError describes rejected input. Fields maps the offending json field
// to the failed rule.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s %s", key, e.Fields[key]))
	}
	return fmt.Sprintf("%s: %s", e.Message, strings.Join(parts, ", "))
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, rule, message string) *ValidationError {
	return &ValidationError{Message: message, Fields: map[string]string{field: rule}}
}

// validate runs struct validation and converts validator errors into a
// *ValidationError keyed by json field names.
func validate(v *validator.Validate, payload interface{}) error {
	err := v.Struct(payload)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return err
	}

	fields := make(map[string]string, len(validationErrors))
	for _, fieldErr := range validationErrors {
		rule := fieldErr.Tag()
		if fieldErr.Param() != "" {
			rule = rule + "=" + fieldErr.Param()
		}
		fields[jsonFieldName(fieldErr.Namespace())] = rule
	}
	return &ValidationError{Message: "invalid request", Fields: fields}
}

func jsonFieldName(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		namespace = namespace[idx+1:]
	}
	return namespace
}

// NewValidator returns a validator that reports json tag names in errors.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return field.Name
		}
		return name
	})
	return v
}
