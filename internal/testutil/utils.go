package testutil

import (
	"log"
	"os"
	"testing"
)

// TestLogger returns a logger tagged with the test's name. Output goes to
// stdout so `go test -v` interleaves it with the test results.
func TestLogger(t *testing.T) *log.Logger {
	logger := log.New(os.Stdout, "["+t.Name()+"] ", log.LstdFlags|log.Lmicroseconds)
	t.Cleanup(func() {
		logger.SetOutput(os.Stderr)
	})
	return logger
}
