package installer

import "fmt"

// CodeError carries one of the stable wire error codes alongside the
// underlying cause. The code crosses the process boundary; the cause
// only ever reaches the helper's log.
type CodeError struct {
	Code string
	Err  error
}

func (e *CodeError) Error() string {
	if e.Err == nil {
		return e.Code
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *CodeError) Unwrap() error { return e.Err }

func codeErr(code string, err error) *CodeError {
	return &CodeError{Code: code, Err: err}
}

func codeErrf(code, format string, args ...any) *CodeError {
	return &CodeError{Code: code, Err: fmt.Errorf(format, args...)}
}
