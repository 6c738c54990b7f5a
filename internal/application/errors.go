package application

import (
	"errors"
	"sort"
	"strings"
)

// ErrNotFound is returned when the requested activity does not exist.
var ErrNotFound = errors.New("application: not found")

// InvalidRequestError captures field level problems with caller supplied input.
type InvalidRequestError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *InvalidRequestError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "invalid request"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var b strings.Builder
	b.WriteString("invalid request: ")
	for i, field := range fields {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(field)
		b.WriteString(" ")
		b.WriteString(v.FieldErrors[field])
	}
	return b.String()
}

// HasErrors reports whether any field level issues were recorded.
func (v *InvalidRequestError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

func (v *InvalidRequestError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	v.FieldErrors[field] = message
}

func invalidRequest(field, message string) *InvalidRequestError {
	vErr := &InvalidRequestError{}
	vErr.add(field, message)
	return vErr
}
