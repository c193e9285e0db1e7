package storage

// ErrNotFound is returned when a row doesn't exist in the store.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e ErrNotFound) Error() string {
	if e.Key == "" {
		return e.Entity + " not found"
	}

	return e.Entity + " not found: " + e.Key
}
