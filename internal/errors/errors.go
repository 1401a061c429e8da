// Package errors provides typed errors for Basalt operations.
// This enables callers to use errors.Is() and errors.As() for specific
// error handling, and lets the elevated-service IPC re-raise errors by
// type on the client side.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
// Use errors.Is(err, errors.ErrUserAbort) to check for specific errors.
var (
	// Cooperative cancellation reached a check-point.
	ErrUserAbort = errors.New("operation aborted by user")

	// Credential errors. Trial decryption exhausted every KDF and
	// cascade with no CRC match. Deliberately indistinguishable from
	// "no hidden volume here".
	ErrPasswordIncorrect           = errors.New("incorrect password")
	ErrPasswordKeyfilesIncorrect   = errors.New("incorrect password or keyfiles")
	ErrProtectionPasswordIncorrect = errors.New("incorrect hidden volume protection password")

	// Mount lifecycle state violations
	ErrVolumeAlreadyMounted = errors.New("volume is already mounted")
	ErrVolumeProtected      = errors.New("write denied: volume is hidden-protected")
	ErrVolumeReadOnly       = errors.New("volume is mounted read-only")
	ErrMountedVolumeInUse   = errors.New("mounted volume is in use")

	// A previously-valid header now fails CRC after write: media damage.
	// MUST NOT be confused with ErrPasswordIncorrect.
	ErrHeaderCorrupt = errors.New("volume header corrupted")

	// Caller precondition violation
	ErrParameterIncorrect = errors.New("parameter incorrect")

	// Operation not available on this platform
	ErrNotImplemented = errors.New("not implemented on this platform")

	// A self-test known-answer did not match
	ErrTestFailed = errors.New("self-test failed")

	// Header decrypted but demands a newer reader
	ErrHigherVersionRequired = errors.New("volume requires a newer program version")

	// RNG pool used before Start or after Stop; also returned by the core
	// before Init and by a volume after Close
	ErrNotInitialized = errors.New("random pool not initialized")
)

// SystemError wraps an OS error with its numeric code and the path or
// device involved. It corresponds to one errno-carrying failed syscall;
// the volume layer does not retry.
type SystemError struct {
	Code    int    // OS error number, 0 if unknown
	Subject string // path or device involved
	Err     error  // underlying error
}

func (e *SystemError) Error() string {
	if e.Subject != "" {
		return fmt.Sprintf("system error on %s: %v", e.Subject, e.Err)
	}
	return fmt.Sprintf("system error: %v", e.Err)
}

func (e *SystemError) Unwrap() error {
	return e.Err
}

// NewSystemError creates a SystemError for the given subject.
func NewSystemError(subject string, code int, err error) *SystemError {
	return &SystemError{Code: code, Subject: subject, Err: err}
}

// ValidationError represents an input validation error. It unwraps to
// ErrParameterIncorrect.
type ValidationError struct {
	Field   string // field name that failed validation
	Message string // human-readable error message
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrParameterIncorrect
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// Is checks if target matches any of our sentinel errors.
// This is a convenience function for common error checks.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// New returns a new error with the given text.
func New(text string) error {
	return errors.New(text)
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsPasswordError reports whether err is any of the credential errors.
func IsPasswordError(err error) bool {
	return errors.Is(err, ErrPasswordIncorrect) ||
		errors.Is(err, ErrPasswordKeyfilesIncorrect) ||
		errors.Is(err, ErrProtectionPasswordIncorrect)
}

// IsUserAbort checks if the error indicates a cancelled operation.
func IsUserAbort(err error) bool {
	return errors.Is(err, ErrUserAbort)
}

// Sentinels returns the sentinel errors by wire name, used by the
// elevated-service IPC to preserve error identity across the privilege
// boundary.
func Sentinels() map[string]error {
	return map[string]error{
		"UserAbort":                    ErrUserAbort,
		"PasswordIncorrect":            ErrPasswordIncorrect,
		"PasswordKeyfilesIncorrect":    ErrPasswordKeyfilesIncorrect,
		"ProtectionPasswordIncorrect":  ErrProtectionPasswordIncorrect,
		"VolumeAlreadyMounted":         ErrVolumeAlreadyMounted,
		"VolumeProtected":              ErrVolumeProtected,
		"VolumeReadOnly":               ErrVolumeReadOnly,
		"MountedVolumeInUse":           ErrMountedVolumeInUse,
		"HeaderCorrupt":                ErrHeaderCorrupt,
		"ParameterIncorrect":           ErrParameterIncorrect,
		"NotImplemented":               ErrNotImplemented,
		"TestFailed":                   ErrTestFailed,
		"HigherVersionRequired":        ErrHigherVersionRequired,
		"NotInitialized":               ErrNotInitialized,
	}
}

// WireName returns the wire name of the sentinel err belongs to, or ""
// if err matches no sentinel.
func WireName(err error) string {
	for name, sentinel := range Sentinels() {
		if errors.Is(err, sentinel) {
			return name
		}
	}
	return ""
}
