package registry

// notFoundError signals an unknown model or adapter id for 404 mapping.
type notFoundError struct{ what string }

func (e notFoundError) Error() string { return "not found: " + e.what }

// ErrNotFound constructs a notFoundError.
func ErrNotFound(what string) error { return notFoundError{what: what} }

// IsNotFound reports whether err indicates a missing registry row.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// duplicateIdentifierError signals a registration conflict on the unique
// model identifier.
type duplicateIdentifierError struct{ identifier string }

func (e duplicateIdentifierError) Error() string {
	return "duplicate identifier: " + e.identifier
}

// ErrDuplicateIdentifier constructs a duplicateIdentifierError.
func ErrDuplicateIdentifier(identifier string) error {
	return duplicateIdentifierError{identifier: identifier}
}

// IsDuplicateIdentifier reports whether err indicates an identifier conflict.
func IsDuplicateIdentifier(err error) bool {
	_, ok := err.(duplicateIdentifierError)
	return ok
}
