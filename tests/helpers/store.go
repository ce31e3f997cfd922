// Package helpers provides shared test fixtures.
package helpers

import (
	"testing"

	"github.com/taskmesh/master/internal/store"
)

// NewTestStore creates an in-memory store that is closed when the test ends.
func NewTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()

	s := store.NewMemoryStore()
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}
