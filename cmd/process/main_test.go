package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_RequiresExactlyOnePathArgument(t *testing.T) {
	assert.Equal(t, 1, run(nil))
	assert.Equal(t, 1, run([]string{"a", "b"}))
}

func TestRun_ProcessesPlaintextFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "note.txt")
	assert.NoError(t, os.WriteFile(path, []byte("hello world, this is a test file"), 0o644))

	assert.Equal(t, 0, run([]string{path}))
}

func TestRun_ReportsErrorForMissingFile(t *testing.T) {
	assert.Equal(t, 1, run([]string{"/nonexistent/path/does-not-exist.txt"}))
}
