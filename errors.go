package canarystore

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
)

// Sentinels. Wrapped errors keep them reachable through errors.Is; the Is*
// predicates below group them the way the HTTP layer maps status codes.
var (
	// Lookup errors
	ErrNotFound       = errors.New("object not found")
	ErrAmbiguousMatch = errors.New("more than one object matches key")
	ErrResolution     = errors.New("no service applies to account")

	// Data errors
	ErrDuplicateName = errors.New("canary config name already in use")
	ErrDeserialize   = errors.New("unable to deserialize object")
	ErrInvalidData   = errors.New("invalid data format")

	// Backend errors
	ErrBackendFault       = errors.New("backend fault")
	ErrBackendUnavailable = errors.New("backend unavailable")
	ErrUnauthorized       = errors.New("unauthorized access")
	ErrLockHeld           = errors.New("lock held by another process")

	// Query errors
	ErrRetryExhausted = errors.New("metrics query retries exhausted")
	ErrRetryableQuery = errors.New("retryable metrics query failure")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorWithContext carries the fields that identify where err happened
// (account, key, field). They are rendered sorted by name.
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	var b strings.Builder
	b.WriteString(e.Err.Error())
	b.WriteString(" [")
	for i, k := range slices.Sorted(maps.Keys(e.Context)) {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s=%v", k, e.Context[k])
	}
	b.WriteByte(']')
	return b.String()
}

func (e *ErrorWithContext) Unwrap() error { return e.Err }

// WithContext attaches fields to err. A nil err stays nil.
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{Err: err, Context: context}
}

// ResolutionError names the account no registered service could serve.
type ResolutionError struct {
	Kind    string // "storage" or "metrics"
	Account string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unable to resolve %s service %s", e.Kind, e.Account)
}

func (e *ResolutionError) Unwrap() error {
	return ErrResolution
}

// DuplicateNameError is returned when a canary config name is already claimed by another id
// within the same application scope.
type DuplicateNameError struct {
	Name         string
	Applications []string
	ExistingID   string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("canary config with name '%s' already exists in the scope of applications [%s]",
		e.Name, strings.Join(e.Applications, ", "))
}

func (e *DuplicateNameError) Unwrap() error {
	return ErrDuplicateName
}

// backendFault wraps a pass-through backend error so callers can match ErrBackendFault
// while errors.Is/As still reach the original cause.
type backendFault struct {
	op  string
	err error
}

func (e *backendFault) Error() string {
	return fmt.Sprintf("%s: %v", e.op, e.err)
}

func (e *backendFault) Unwrap() []error {
	return []error{ErrBackendFault, e.err}
}

func wrapBackendFault(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrBackendFault) {
		return err
	}
	return &backendFault{op: op, err: err}
}

func isAny(err error, targets ...error) bool {
	return slices.ContainsFunc(targets, func(target error) bool { return errors.Is(err, target) })
}

func IsNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func IsDuplicateName(err error) bool { return errors.Is(err, ErrDuplicateName) }

// IsBadInput reports errors the caller can fix by changing the request.
func IsBadInput(err error) bool {
	return isAny(err, ErrInvalidData, ErrDuplicateName, ErrAmbiguousMatch, ErrResolution, ErrInvalidConfig)
}

// IsUpstreamUnavailable reports failures of a storage backend or metrics source.
func IsUpstreamUnavailable(err error) bool {
	return isAny(err, ErrBackendFault, ErrBackendUnavailable, ErrRetryExhausted)
}

// IsRetryable reports transient conditions worth another attempt.
func IsRetryable(err error) bool {
	return isAny(err, ErrBackendUnavailable, ErrRetryableQuery, ErrLockHeld)
}

// IsPermanent reports errors that no retry will fix.
func IsPermanent(err error) bool {
	return isAny(err, ErrNotFound, ErrUnauthorized, ErrInvalidData, ErrDeserialize,
		ErrDuplicateName, ErrAmbiguousMatch, ErrInvalidConfig)
}
