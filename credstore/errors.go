package credstore

import "fmt"

type (
	DuplicateIdentifier struct {
		Identifier string
	}

	// StorageFailure is returned whenever the underlying database
	// could not complete an operation. The cause is kept for logging
	// but callers should never send it to clients.
	StorageFailure struct {
		Op    string
		cause error
	}

	MissingUniqueIndex struct {
		Table  string
		Column string
	}
)

func (d DuplicateIdentifier) Error() string {
	return fmt.Sprintf("identifier %q already registered", d.Identifier)
}

func (s StorageFailure) Error() string {
	return fmt.Sprintf("credstore: unable to %v, cause %v", s.Op, s.cause)
}

func (s StorageFailure) Unwrap() error {
	return s.cause
}

func (m MissingUniqueIndex) Error() string {
	return fmt.Sprintf("table %v is missing a unique index on %v", m.Table, m.Column)
}
