package ledger

import "fmt"

// ValidationError rejects bad input before any write happens.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// NotFoundError means the referenced entity is absent or belongs to
// another group.
type NotFoundError struct {
	Resource string
}

func (e *NotFoundError) Error() string { return e.Resource + " not found" }

// ConflictError rejects a mutation that would break a stored record's
// protections, such as deleting a system-generated entry or a member with
// financial history.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

// InvariantViolation signals an unrecoverable configuration fault, not bad
// user input. The canonical case is a group without its system member.
type InvariantViolation struct {
	Msg string
}

func (e *InvariantViolation) Error() string { return e.Msg }
