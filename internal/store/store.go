package store

// Store defines the interface for bootstrap result persistence.
// Implementations must be safe for concurrent use.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return a *NotFoundError if the result doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// Save atomically persists a result record. An existing record with the
	// same ID is overwritten, which is how an extended result replaces its
	// predecessor.
	Save(id string, record *Record) error

	// Load retrieves the record for the given ID.
	// Returns ErrNotFound if no record exists.
	Load(id string) (*Record, error)

	// List returns metadata for all stored results.
	List() ([]Info, error)

	// Delete removes the record for the given ID.
	// Returns ErrNotFound if no record exists.
	Delete(id string) error
}

// ErrNotFound is returned when a requested result does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing result record.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return "result not found: " + e.ID
	}
	return "result not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
