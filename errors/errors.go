// The errors package provides error primitives shared by the decoders of this
// module, including the error kinds produced while parsing asset data.
package errors

import (
	"errors"
	"strings"
)

func New(text string) error {
	return errors.New(text)
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Errors is a list of errors. Decoders use it to accumulate warnings that do
// not stop decoding.
type Errors []error

// Error formats the list by separating each message with a newline. Each
// produced line, including lines within messages, is prefixed with a tab.
func (errs Errors) Error() string {
	switch len(errs) {
	case 0:
		return "no errors"
	case 1:
		return errs[0].Error()
	default:
		var buf strings.Builder
		buf.WriteString("multiple errors:")
		for _, err := range errs {
			buf.WriteString("\n\t")
			msg := err.Error()
			msg = strings.ReplaceAll(msg, "\n", "\n\t")
			buf.WriteString(msg)
		}
		return buf.String()
	}
}

// Unwrap returns the list, allowing Is and As to inspect each error.
func (errs Errors) Unwrap() []error {
	return errs
}

// Append returns errs with each err appended to it. Arguments that are nil are
// skipped. Arguments that are Errors are flattened.
func (errs Errors) Append(err ...error) Errors {
	for _, err := range err {
		switch err := err.(type) {
		case nil:
		case Errors:
			errs = errs.Append(err...)
		default:
			errs = append(errs, err)
		}
	}
	return errs
}

// Return prepares errs to be returned by a function by returning nil if errs is
// empty.
func (errs Errors) Return() error {
	if len(errs) == 0 {
		return nil
	}
	return errs
}

// Union receives a number of errors and combines them into one Errors. Any errs
// that are Errors are concatenated directly. Returns nil if all errs are nil or
// empty.
func Union(errs ...error) error {
	return Errors(nil).Append(errs...).Return()
}
