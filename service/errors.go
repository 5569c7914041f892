package service

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies the expected failures of an operation. Any error that is not an *Error is unexpected.
type Kind int

const (
	// KindValidation is malformed or missing input.
	KindValidation Kind = iota + 1
	// KindPolicy is a permission or business rule violation.
	KindPolicy
	// KindNotFound is a referenced user, group or token that does not exist or is invalid.
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindPolicy:
		return "policy"
	case KindNotFound:
		return "not found"
	}
	return "unexpected"
}

// Error is an expected failure. Message is shown to the user as is.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func validationf(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func policyf(format string, args ...interface{}) error {
	return &Error{Kind: KindPolicy, Message: fmt.Sprintf(format, args...)}
}

func notFoundf(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or 0 if err is unexpected.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
