package types

import (
	"strings"
	"sync"
)

// MultiError collects independent failures, e.g. one per recipient of a task wallet.
type MultiError struct {
	mu     sync.Mutex
	Errors []error
}

func (m *MultiError) Error() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := make([]string, len(m.Errors))
	for i, err := range m.Errors {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (m *MultiError) Add(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors = append(m.Errors, err)
}

func (m *MultiError) IsEmpty() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Errors) == 0
}

func (m *MultiError) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Errors)
}

// Unwrap lets errors.Is and errors.As look through every collected error.
func (m *MultiError) Unwrap() []error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]error(nil), m.Errors...)
}

// Strings returns the collected messages, used for JSON reports.
func (m *MultiError) Strings() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Errors))
	for i, err := range m.Errors {
		out[i] = err.Error()
	}
	return out
}

// ErrOrNil returns m as an error, or nil when nothing was collected.
func (m *MultiError) ErrOrNil() error {
	if m.IsEmpty() {
		return nil
	}
	return m
}
