package auth

import "fmt"

type (
	InvalidInput struct {
		Field  string
		Reason string
	}

	AlreadyExists struct {
		Identifier string
	}

	InvalidCredentials struct{}

	// Internal wraps any failure that is not the caller's fault,
	// the cause should be logged and never shown to clients.
	Internal struct {
		Op    string
		cause error
	}

	MalformedHash struct {
		Scheme string
	}
)

func (i InvalidInput) Error() string {
	return fmt.Sprintf("invalid %v: %v", i.Field, i.Reason)
}

func (a AlreadyExists) Error() string {
	return fmt.Sprintf("user %q already exists", a.Identifier)
}

func (InvalidCredentials) Error() string {
	return "invalid credentials"
}

func (i Internal) Error() string {
	return fmt.Sprintf("auth: unable to %v, cause %v", i.Op, i.cause)
}

func (i Internal) Unwrap() error {
	return i.cause
}

func (m MalformedHash) Error() string {
	return fmt.Sprintf("stored hash is not a valid %v hash", m.Scheme)
}
