// Package errs implements the closed error-code taxonomy that every
// operator, exchange and transaction in this engine reports through
// instead of panicking. Errors are values: a fallible call returns
// (result, *errs.Info), and callers decide whether the code is a warning,
// a recoverable client-visible failure, or fatal.
package errs

import "fmt"

// Code is a member of the closed error-code enum.
type Code int

const (
	None Code = iota

	// Warnings - not promoted to errors by the engine.
	NotFound
	AlreadyExists
	UserRollback
	WaitingForOtherTransaction

	// SQL-level, recoverable.
	SQLServiceException
	UniqueConstraintViolationException
	NotNullConstraintViolationException
	ReferentialConstraintViolationException
	CheckConstraintViolationException
	ValueTooLongException
	ValueEvaluationException
	TargetNotFoundException
	UnsupportedRuntimeFeatureException
	SQLRequestTimedOutException

	// Transaction/CC-level, recoverable.
	CCException
	OCCReadException
	LTXWriteException
	ConflictOnWritePreserveException
	BlockedByConcurrentOperationException
	InactiveTransactionException

	// Compile-level (reported to engine by an external collaborator, but
	// representable here since the operator builder can surface it).
	CompileException

	// IO.
	IOException

	// Internal / fatal.
	InternalException
)

var names = map[Code]string{
	None:                                   "none",
	NotFound:                               "not_found",
	AlreadyExists:                          "already_exists",
	UserRollback:                           "user_rollback",
	WaitingForOtherTransaction:              "waiting_for_other_transaction",
	SQLServiceException:                    "sql_service_exception",
	UniqueConstraintViolationException:      "unique_constraint_violation_exception",
	NotNullConstraintViolationException:     "not_null_constraint_violation_exception",
	ReferentialConstraintViolationException: "referential_constraint_violation_exception",
	CheckConstraintViolationException:       "check_constraint_violation_exception",
	ValueTooLongException:                   "value_too_long_exception",
	ValueEvaluationException:                "value_evaluation_exception",
	TargetNotFoundException:                 "target_not_found_exception",
	UnsupportedRuntimeFeatureException:       "unsupported_runtime_feature_exception",
	SQLRequestTimedOutException:             "sql_request_timed_out_exception",
	CCException:                             "cc_exception",
	OCCReadException:                        "occ_read_exception",
	LTXWriteException:                       "ltx_write_exception",
	ConflictOnWritePreserveException:         "conflict_on_write_preserve_exception",
	BlockedByConcurrentOperationException:    "blocked_by_concurrent_operation_exception",
	InactiveTransactionException:             "inactive_transaction_exception",
	CompileException:                        "compile_exception",
	IOException:                             "io_exception",
	InternalException:                       "internal_exception",
}

func (c Code) String() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "unknown_exception"
}

// Class classifies a Code into the three buckets from spec §7.
type Class int

const (
	ClassWarning Class = iota
	ClassRecoverable
	ClassFatal
)

func (c Code) Class() Class {
	switch c {
	case None, NotFound, AlreadyExists, UserRollback, WaitingForOtherTransaction:
		return ClassWarning
	case InternalException:
		return ClassFatal
	default:
		return ClassRecoverable
	}
}

// SourceLocation names the file/line/function that raised the error, for
// diagnostics only - never parsed by callers.
type SourceLocation struct {
	File string
	Line int
	Func string
}

// Status is the coarse outcome a task or step records alongside a Code.
type Status int

const (
	StatusOK Status = iota
	StatusError
	StatusInterrupted
)

// Info is the structured error payload carried on a request context,
// (tx) error slot, or returned directly from an operator/exchange call.
type Info struct {
	Code     Code
	Message  string
	Source   SourceLocation
	Status   Status
	Detail   any
}

func New(code Code, msg string) *Info {
	return &Info{Code: code, Message: msg, Status: StatusError}
}

func Newf(code Code, format string, args ...any) *Info {
	return New(code, fmt.Sprintf(format, args...))
}

func (e *Info) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsNone reports whether e represents the absence of an error - the slot
// sentinel value used by first-writer-wins accounting.
func (e *Info) IsNone() bool {
	return e == nil || e.Code == None
}
