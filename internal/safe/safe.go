// Package safe runs background work with panic recovery.
package safe

import (
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
)

// Go runs fn in a goroutine and recovers from panics.
// The panic and stack trace are logged instead of crashing the process.
func Go(logger *slog.Logger, task string, fn func()) {
	go func() {
		_ = Call(logger, task, fn)
	}()
}

// Call runs fn and recovers from a panic, returning it as an error.
func Call(logger *slog.Logger, task string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in %s: %v", task, r)
			if logger != nil {
				logger.Error("panic recovered in background task", "task", task, "panic", r, "stack", string(debug.Stack()))
			} else {
				fmt.Fprintf(os.Stderr, "PANIC RECOVERED in %s: %v\n%s\n", task, r, debug.Stack())
			}
		}
	}()
	fn()
	return nil
}
