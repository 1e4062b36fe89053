package observability

import (
	"fmt"
	"runtime/debug"
)

// RecoverPanic recovers from a panic and logs it with structured logging.
// Must be called directly in a defer statement. The panic is not re-raised.
//
//	defer observability.RecoverPanic(logger, "hourly rollup")
func RecoverPanic(logger *Logger, context string) {
	if r := recover(); r != nil {
		logger.WithField("panic", fmt.Sprint(r)).
			WithField("stack", string(debug.Stack())).
			WithField("context", context).
			Error("PANIC recovered")
	}
}

// MustRecover converts a recovered panic value into an error, or nil
//
//	defer func() {
//	    if perr := observability.MustRecover(recover()); perr != nil {
//	        err = perr
//	    }
//	}()
func MustRecover(r interface{}) error {
	if r != nil {
		return fmt.Errorf("panic: %v", r)
	}
	return nil
}
