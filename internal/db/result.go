package db

import (
	"fmt"
	"log/slog"
	"runtime/debug"
)

// ErrorCode tags a failed store operation. The values are the wire codes
// the UI understands.
type ErrorCode string

const (
	CodeInvalidAmount      ErrorCode = "INVALID_AMOUNT"
	CodeEmptyCredentials   ErrorCode = "EMPTY_CREDENTIALS"
	CodeInvalidCredentials ErrorCode = "INVALID_CREDENTIALS"
	CodeCancelled          ErrorCode = "CANCELLED"
	CodeInternal           ErrorCode = "INTERNAL_ERROR"
)

// Result is either a success payload or an error code, never both
type Result[T any] struct {
	Value T
	Code  ErrorCode
	// Err is the underlying failure of an INTERNAL_ERROR, for logs only
	Err error
}

// OK reports whether the operation succeeded
func (r Result[T]) OK() bool {
	return r.Code == ""
}

// String renders the error code and cause of a failed result
func (r Result[T]) String() string {
	if r.OK() {
		return "ok"
	}
	if r.Err != nil {
		return fmt.Sprintf("%s: %v", r.Code, r.Err)
	}
	return string(r.Code)
}

func success[T any](v T) Result[T] {
	return Result[T]{Value: v}
}

func failure[T any](code ErrorCode) Result[T] {
	return Result[T]{Code: code}
}

// internal logs err against op and converts it to INTERNAL_ERROR
func internal[T any](logger *slog.Logger, op string, err error) Result[T] {
	logger.Error("Store operation failed", "op", op, "error", err)
	return Result[T]{Code: CodeInternal, Err: err}
}

// recoverResult turns a panic inside a store operation into INTERNAL_ERROR.
// It must be deferred directly.
func recoverResult[T any](logger *slog.Logger, op string, res *Result[T]) {
	if r := recover(); r != nil {
		logger.Error("Store operation panicked", "op", op, "panic", r, "stack", string(debug.Stack()))
		*res = Result[T]{Code: CodeInternal, Err: fmt.Errorf("panic: %v", r)}
	}
}
