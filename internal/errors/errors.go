// Package errors provides the error-construction idiom used throughout
// loom. Use New/Errorf/Wrap/Wrapf instead of the standard library's
// errors.New/fmt.Errorf so failures carry a recorded stack trace and,
// when relevant, a cause chain that can be printed with the "%+v" verb.
package errors

import (
	"fmt"
	"io"
	"strings"

	"github.com/loomtest/loom/internal/errors/stack"
)

type impl struct {
	msg   string
	stk   stack.Stack
	cause error
}

func (e *impl) Error() string {
	if e.cause == nil {
		return e.msg
	}
	return fmt.Sprintf("%s: %s", e.msg, e.cause.Error())
}

func (e *impl) Unwrap() error {
	return e.cause
}

func formatChain(err error) string {
	var chain []string
	for err != nil {
		e, ok := err.(*impl)
		if !ok {
			chain = append(chain, fmt.Sprintf("%s\n\tat ???", err.Error()))
			err = nil
			continue
		}
		chain = append(chain, fmt.Sprintf("%s\n%v", e.msg, e.stk))
		err = e.cause
	}
	return strings.Join(chain, "\n")
}

// Format implements fmt.Formatter so "%+v" prints the full error chain
// with stack traces.
func (e *impl) Format(s fmt.State, verb rune) {
	if verb == 'v' && s.Flag('+') {
		io.WriteString(s, formatChain(e))
		return
	}
	io.WriteString(s, e.Error())
}

// New creates a new error with the given message, recording the call site.
func New(msg string) error {
	return &impl{msg: msg, stk: stack.New(1)}
}

// Errorf creates a new error from a format string, recording the call site.
func Errorf(format string, args ...interface{}) error {
	return &impl{msg: fmt.Sprintf(format, args...), stk: stack.New(1)}
}

// Wrap creates a new error with msg, wrapping cause. If cause is nil this
// behaves like New.
func Wrap(cause error, msg string) error {
	return &impl{msg: msg, stk: stack.New(1), cause: cause}
}

// Wrapf creates a new error from a format string, wrapping cause. If cause
// is nil this behaves like Errorf.
func Wrapf(cause error, format string, args ...interface{}) error {
	return &impl{msg: fmt.Sprintf(format, args...), stk: stack.New(1), cause: cause}
}
