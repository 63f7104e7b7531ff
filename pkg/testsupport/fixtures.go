// Package testsupport carries small helpers shared by the package tests.
package testsupport

import (
	"os"
	"path/filepath"
	"testing"
)

// TempFile writes content to a file inside a test-scoped temporary
// directory and returns its path. Cleanup happens with the test.
func TempFile(t *testing.T, name string, content []byte) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("failed to write temp file %s: %v", path, err)
	}
	return path
}
