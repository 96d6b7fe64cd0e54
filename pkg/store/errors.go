package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/surrealdb/surrealshop/pkg/models"
)

var (
	// ErrNotFound is returned when the requested identity does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrValidation marks payloads rejected before any backend was touched.
	ErrValidation = models.ErrInvalid
	// ErrAuthoritativeWrite wraps the failure of the write that must succeed.
	ErrAuthoritativeWrite = errors.New("authoritative write failed")
	// ErrShadowWrite marks the failure of a best-effort write. It never reaches callers
	// of the orchestrator; it is recorded by the monitor.
	ErrShadowWrite = errors.New("shadow write failed")

	ErrConstraint = errors.New("constraint violation")
	ErrThrottled  = errors.New("backend throttled")
	ErrTimeout    = errors.New("backend timeout")
	ErrTransient  = errors.New("transient backend failure")
)

// UnknownTable reports a table name that is not part of the shop schema.
func UnknownTable(table string) error {
	return fmt.Errorf("%w: unknown table %q", ErrValidation, table)
}

// BackendError is a failure reported by one storage backend.
type BackendError struct {
	Backend string
	Table   string
	Op      Op
	Err     error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s %s %s: %v", e.Backend, e.Op, e.Table, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// Wrap attaches backend, table and operation to err. Errors that carry no
// classification are marked with ErrTransient, and context deadlines with ErrTimeout.
func Wrap(backend, table string, op Op, err error) error {
	if err == nil {
		return nil
	}
	var be *BackendError
	if errors.As(err, &be) {
		return err
	}
	if !classified(err) {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", ErrTimeout, err)
		} else {
			err = fmt.Errorf("%w: %w", ErrTransient, err)
		}
	}
	return &BackendError{Backend: backend, Table: table, Op: op, Err: err}
}

func classified(err error) bool {
	for _, target := range []error{ErrNotFound, ErrValidation, ErrConstraint, ErrThrottled, ErrTimeout, ErrTransient} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Reason returns a short label for the class of err, used in outcomes and metrics.
func Reason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConstraint):
		return "constraint"
	case errors.Is(err, ErrThrottled):
		return "throttled"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}
	return "transient"
}

// Op names a repository operation.
type Op string

const (
	OpCreate Op = "create"
	OpGet    Op = "get"
	OpUpdate Op = "update"
	OpDelete Op = "delete"
	OpFind   Op = "find"
	OpScan   Op = "scan"
)

// Role distinguishes the write that decides the caller's result from the best-effort one.
type Role string

const (
	RoleAuthoritative Role = "authoritative"
	RoleShadow        Role = "shadow"
)

// WriteOutcome records one backend write.
type WriteOutcome struct {
	Backend string
	Table   string
	ID      string
	Op      Op
	Role    Role
	Err     error
	Latency time.Duration
}

// Success reports whether the write succeeded.
func (o WriteOutcome) Success() bool { return o.Err == nil }

// ReadOutcome records one backend read. Fallback is set on the read that served a
// request after the designated backend failed.
type ReadOutcome struct {
	Backend  string
	Table    string
	Op       Op
	Err      error
	Latency  time.Duration
	Fallback bool
}

// Success reports whether the read succeeded. A NotFound answer is a successful read.
func (o ReadOutcome) Success() bool { return o.Err == nil || errors.Is(o.Err, ErrNotFound) }
