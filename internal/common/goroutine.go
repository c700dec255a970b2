// -----------------------------------------------------------------------
// Safe Goroutine - Panic-protected goroutine wrappers
// -----------------------------------------------------------------------

package common

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/ternarybob/arbor"
)

// goroutineCounter tracks spawned goroutines for diagnostics
var goroutineCounter int64

// GetGoroutineCount returns the number of goroutines spawned via SafeGo
func GetGoroutineCount() int64 {
	return atomic.LoadInt64(&goroutineCounter)
}

// SafeGo runs fn in a goroutine with panic recovery.
// Panics are logged and written to a goroutine crash file but do not stop the process.
//
// Example:
//
//	common.SafeGo(logger, "bridge.readLoop", func() {
//	    c.readLoop(conn)
//	})
func SafeGo(logger arbor.ILogger, name string, fn func()) {
	atomic.AddInt64(&goroutineCounter, 1)

	go func() {
		defer recoverGoroutine(logger, name)
		fn()
	}()
}

// SafeGoWithContext is SafeGo that skips fn entirely when ctx is already cancelled
func SafeGoWithContext(ctx context.Context, logger arbor.ILogger, name string, fn func()) {
	atomic.AddInt64(&goroutineCounter, 1)

	go func() {
		defer recoverGoroutine(logger, name)

		select {
		case <-ctx.Done():
			if logger != nil {
				logger.Debug().Str("goroutine", name).Msg("Goroutine cancelled before start")
			}
			return
		default:
		}

		fn()
	}()
}

func recoverGoroutine(logger arbor.ILogger, name string) {
	r := recover()
	if r == nil {
		return
	}

	stackTrace := GetStackTrace()
	if logger != nil {
		logger.Error().
			Str("goroutine", name).
			Str("panic", fmt.Sprintf("%v", r)).
			Str("stack", stackTrace).
			Msg("Recovered from panic in goroutine - continuing")
	} else {
		fmt.Fprintf(os.Stderr, "PANIC in goroutine %s: %v\n%s\n", name, r, stackTrace)
	}

	WriteCrashFile("goroutine-"+name, r, stackTrace)
}
