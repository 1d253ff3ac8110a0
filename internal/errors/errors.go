package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure so callers can branch with errors.Is.
type Kind int

const (
	// KindInvalidConfig covers conflicting or malformed configuration.
	KindInvalidConfig Kind = iota + 1
	// KindIO covers transport and codec failures.
	KindIO
	// KindConnectionFailed is an IO failure while reaching the backing store.
	KindConnectionFailed
	// KindSerializationFailed is an IO failure while encoding or decoding a record.
	KindSerializationFailed
	// KindExecutionFailed covers statement errors at the backing store.
	KindExecutionFailed
	// KindCrypto covers cipher initialization and authentication-tag failures.
	KindCrypto
	// KindValidation covers records that must not be persisted.
	KindValidation
)

// Sentinels for errors.Is. ErrConnectionFailed and ErrSerializationFailed
// also match ErrIO.
var (
	ErrInvalidConfig       = errors.New("invalid configuration")
	ErrIO                  = errors.New("i/o failure")
	ErrConnectionFailed    = errors.New("connection failed")
	ErrSerializationFailed = errors.New("serialization failed")
	ErrExecutionFailed     = errors.New("statement execution failed")
	ErrCrypto              = errors.New("crypto failure")
	ErrValidation          = errors.New("validation failed")
)

func (k Kind) String() string {
	switch k {
	case KindInvalidConfig:
		return "InvalidConfig"
	case KindIO:
		return "IOError"
	case KindConnectionFailed:
		return "ConnectionFailed"
	case KindSerializationFailed:
		return "SerializationFailed"
	case KindExecutionFailed:
		return "ExecutionFailed"
	case KindCrypto:
		return "CryptoError"
	case KindValidation:
		return "ValidationError"
	default:
		return "Unknown"
	}
}

func (k Kind) sentinel() error {
	switch k {
	case KindInvalidConfig:
		return ErrInvalidConfig
	case KindIO:
		return ErrIO
	case KindConnectionFailed:
		return ErrConnectionFailed
	case KindSerializationFailed:
		return ErrSerializationFailed
	case KindExecutionFailed:
		return ErrExecutionFailed
	case KindCrypto:
		return ErrCrypto
	case KindValidation:
		return ErrValidation
	default:
		return nil
	}
}

// Error is the typed failure returned by the persistence and crypto packages.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	Suggestion string
	Err        error
}

// New builds an Error without a cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap builds an Error around err, attaching a suggestion when one is known.
func Wrap(kind Kind, op, message string, err error) *Error {
	e := &Error{Kind: kind, Op: op, Message: message, Err: err}
	if err != nil {
		e.Suggestion = suggestionFor(kind, err)
	}
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	if e.Message != "" {
		b.WriteString(e.Message)
	} else {
		b.WriteString(e.Kind.String())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's kind. Connection and serialization
// failures are also IO failures.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}
	if target == e.Kind.sentinel() {
		return true
	}
	if target == ErrIO {
		return e.Kind == KindConnectionFailed || e.Kind == KindSerializationFailed
	}
	return false
}

// KindOf returns the Kind of the first *Error in err's chain, or 0.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// UserError represents an error that should be shown to the user with helpful context
type UserError struct {
	Message    string
	Suggestion string
	Details    string
	Err        error
}

func (e UserError) Error() string {
	var parts []string

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Err != nil {
		parts = append(parts, e.Err.Error())
	}

	if e.Details != "" {
		parts = append(parts, "\n  Details: "+e.Details)
	}

	if e.Suggestion != "" {
		parts = append(parts, "\n  💡 Try: "+e.Suggestion)
	}

	return strings.Join(parts, "")
}

func (e UserError) Unwrap() error {
	return e.Err
}

// ConfigError represents a configuration error with helpful context
type ConfigError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
}

func (e ConfigError) Error() string {
	msg := "Configuration error"
	if e.Field != "" {
		msg += fmt.Sprintf(" in field '%s'", e.Field)
	}
	if e.Value != nil {
		msg += fmt.Sprintf(" (value: %v)", e.Value)
	}
	msg += ": " + e.Message

	if e.Suggestion != "" {
		msg += "\n  💡 " + e.Suggestion
	}

	return msg
}

// Is lets configuration-file errors match ErrInvalidConfig.
func (e ConfigError) Is(target error) bool {
	return target == ErrInvalidConfig
}

// suggestionFor returns a hint based on the error kind and the cause text
func suggestionFor(kind Kind, err error) string {
	errStr := strings.ToLower(err.Error())

	switch kind {
	case KindConnectionFailed:
		if strings.Contains(errStr, "connection refused") {
			return "Check that the database server is running and reachable at the configured host and port"
		}
		if strings.Contains(errStr, "password authentication failed") {
			return "Verify the user and password in the connection config"
		}
		if strings.Contains(errStr, "does not exist") {
			return "Create the database first or fix the 'name' field"
		}
		if strings.Contains(errStr, "no such host") {
			return "Check the 'server' field for typos"
		}
	case KindExecutionFailed:
		if strings.Contains(errStr, "permission denied") {
			return "Grant CREATE and INSERT on the target schema to the configured user"
		}
		if strings.Contains(errStr, "readonly") || strings.Contains(errStr, "read-only") {
			return "The store was opened read-only; drop the ReadOnly flag to write"
		}
	case KindCrypto:
		if strings.Contains(errStr, "key size") {
			return "AES-128-GCM needs a 16-byte key (32 hex characters)"
		}
		if strings.Contains(errStr, "message authentication failed") {
			return "The key does not match the one used to encrypt, or the ciphertext was altered"
		}
	}

	if strings.Contains(errStr, "timeout") {
		return "The operation timed out. Check your network connection and try again"
	}

	return ""
}

// SimplifyError simplifies complex error messages for users
func SimplifyError(err error) error {
	if err == nil {
		return nil
	}

	var ue UserError
	if errors.As(err, &ue) {
		return err
	}
	var ce ConfigError
	if errors.As(err, &ce) {
		return err
	}

	var e *Error
	if errors.As(err, &e) {
		if e.Suggestion == "" {
			return err
		}
		return UserError{
			Message:    e.Error(),
			Suggestion: e.Suggestion,
			Err:        err,
		}
	}

	errStr := err.Error()

	if strings.Contains(errStr, "permission denied") {
		return UserError{
			Message:    "Permission denied",
			Suggestion: "Check file permissions or run with appropriate privileges",
			Err:        err,
		}
	}

	if strings.Contains(errStr, "no such file or directory") {
		return UserError{
			Message:    "File or directory not found",
			Suggestion: "Verify the path exists and is spelled correctly",
			Err:        err,
		}
	}

	// Checked last: file errors name paths like credstore.yaml.
	if strings.Contains(errStr, "yaml: ") {
		return ConfigError{
			Message:    "Invalid YAML format",
			Suggestion: "Check for indentation errors and missing quotes",
		}
	}

	return err
}
