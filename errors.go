package wolke

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure cases
var (
	// ErrConnectionNotFound is returned when a named connection was never registered
	ErrConnectionNotFound = errors.New("wolke: connection not found")

	// ErrUnknownMorphAlias is returned when a discriminator value has no
	// registered type descriptor
	ErrUnknownMorphAlias = errors.New("wolke: unknown morph alias")

	// ErrInvalidAggregate is returned when an aggregate other than MIN or MAX
	// is passed to OfMany
	ErrInvalidAggregate = errors.New("wolke: invalid aggregate, must be MIN or MAX")

	// ErrInvalidDictionaryKey is returned when a value cannot be used as a
	// dictionary key
	ErrInvalidDictionaryKey = errors.New("wolke: value cannot be used as a dictionary key")

	// ErrAmbiguousIdentity is returned when a queueable pivot identity cannot
	// be decoded
	ErrAmbiguousIdentity = errors.New("wolke: ambiguous composite identity")

	// ErrNoLoader is returned when per-type eager loads were requested for a
	// type whose descriptor has no loader
	ErrNoLoader = errors.New("wolke: type descriptor has no relation loader")
)

// ConfigError reports a misconfiguration detected before any query executes.
type ConfigError struct {
	Op  string // Operation that detected the problem
	Err error  // Sentinel or detail error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("wolke: %s: %v", e.Op, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func configError(op string, err error) error {
	return &ConfigError{Op: op, Err: err}
}

func configErrorf(op, format string, args ...any) error {
	return &ConfigError{Op: op, Err: fmt.Errorf(format, args...)}
}

// QueryError wraps store errors with query context for better debugging.
// The underlying error is preserved as-is: this layer performs no retry and
// no constraint translation.
type QueryError struct {
	Query     string // The SQL query that failed
	Args      []any  // The query arguments
	Operation string // Operation type: SELECT, INSERT, UPDATE, DELETE
	Err       error  // The underlying error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("wolke: %s failed: %v\nQuery: %s\nArgs: %s",
		e.Operation, e.Err, e.Query, formatArgs(e.Args))
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// WrapQueryError wraps a store error with query context.
func WrapQueryError(operation, query string, args []any, err error) error {
	if err == nil {
		return nil
	}

	return &QueryError{
		Query:     query,
		Args:      args,
		Operation: operation,
		Err:       err,
	}
}

// IsConfigError checks whether the error is a configuration error.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// formatArgs formats query arguments for error messages
func formatArgs(args []any) string {
	if len(args) == 0 {
		return "[]"
	}

	parts := make([]string, len(args))
	for i, arg := range args {
		parts[i] = fmt.Sprintf("%v", arg)
	}

	// Limit output length
	result := "[" + strings.Join(parts, ", ") + "]"
	if len(result) > 200 {
		return result[:197] + "...]"
	}
	return result
}
