package memory

import (
	"errors"
	"fmt"
)

// ErrMemoryNotFound is returned when a memory file is absent and no default
// value was provided.
var ErrMemoryNotFound = errors.New("memory not found")

// CorruptError indicates a memory file exists but cannot be parsed.
type CorruptError struct {
	Name string
	Err  error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("memory %q is corrupt: %v", e.Name, e.Err)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// IOError indicates a filesystem failure while reading or writing memory.
type IOError struct {
	Name string
	Op   string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("memory I/O failure (%s %q): %v", e.Op, e.Name, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
