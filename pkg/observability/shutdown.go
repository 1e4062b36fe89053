package observability

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function to call during shutdown
type ShutdownFunc func(context.Context) error

type namedShutdown struct {
	name string
	fn   ShutdownFunc
}

// ShutdownManager runs registered shutdown functions in registration order.
// Order matters here: the scheduler must stop before the database closes.
type ShutdownManager struct {
	logger          *Logger
	shutdownTimeout time.Duration
	mu              sync.Mutex
	funcs           []namedShutdown
}

// NewShutdownManager creates a new shutdown manager
func NewShutdownManager(logger *Logger, timeout time.Duration) *ShutdownManager {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:          logger,
		shutdownTimeout: timeout,
	}
}

// Register adds a shutdown step
func (sm *ShutdownManager) Register(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.funcs = append(sm.funcs, namedShutdown{name: name, fn: fn})
}

// WaitForSignal blocks until SIGINT/SIGTERM or ctx is done, then shuts down
func (sm *ShutdownManager) WaitForSignal(ctx context.Context) error {
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	<-sigCtx.Done()
	sm.logger.Info("Shutdown requested, starting graceful shutdown")

	return sm.Shutdown()
}

// Shutdown runs every registered step under the shutdown timeout
func (sm *ShutdownManager) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), sm.shutdownTimeout)
	defer cancel()

	sm.mu.Lock()
	funcs := make([]namedShutdown, len(sm.funcs))
	copy(funcs, sm.funcs)
	sm.mu.Unlock()

	var errs []error
	for _, step := range funcs {
		if ctx.Err() != nil {
			sm.logger.Warn("Shutdown timeout reached, skipping remaining steps")
			errs = append(errs, fmt.Errorf("shutdown timeout reached before %s", step.name))
			break
		}

		sm.logger.Infof("Shutting down %s", step.name)
		if err := step.fn(ctx); err != nil {
			sm.logger.WithError(err).Errorf("Shutdown of %s failed", step.name)
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	sm.logger.Info("Graceful shutdown complete")
	return nil
}
