package cdp

import "fmt"

const (
	CodeTabGone             = "TAB_GONE"
	CodeOutOfScope          = "OUT_OF_SCOPE"
	CodeNotSerializable     = "NOT_SERIALIZABLE"
	CodeInPageThrow         = "IN_PAGE_THROW"
	CodeExecutorUnavailable = "EXECUTOR_UNAVAILABLE"
	CodeEvalTimeout         = "EVAL_TIMEOUT"
	CodeValidation          = "VALIDATION"
	CodeNoTabForInstance    = "NO_TAB_FOR_INSTANCE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// NewError builds a coded error for packages that layer on this one.
func NewError(code, msg string, cause error) error {
	return newError(code, msg, cause)
}
