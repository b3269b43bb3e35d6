package lifecycle

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// ShutdownFunc describes a graceful shutdown callback.
type ShutdownFunc func(ctx context.Context) error

type hook struct {
	name string
	fn   ShutdownFunc
}

// Manager owns the components opened during startup (store, cache, monitor, server)
// and closes them in reverse order of registration.
type Manager struct {
	timeout time.Duration
	logger  *zap.Logger

	mu    sync.Mutex
	hooks []hook
	done  bool
}

// New creates a lifecycle manager with the desired timeout.
func New(timeout time.Duration, logger *zap.Logger) *Manager {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		timeout: timeout,
		logger:  logger,
	}
}

// Register adds a shutdown hook. Hooks registered after Shutdown run immediately.
func (m *Manager) Register(name string, fn ShutdownFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	if !m.done {
		m.hooks = append(m.hooks, hook{name: name, fn: fn})
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()
	m.run(ctx, hook{name: name, fn: fn})
}

// Closer adapts an io.Closer style function.
func Closer(fn func() error) ShutdownFunc {
	return func(context.Context) error { return fn() }
}

// Shutdown executes all registered hooks once, respecting the configured timeout.
func (m *Manager) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	m.mu.Lock()
	hooks := m.hooks
	m.hooks = nil
	m.done = true
	m.mu.Unlock()

	var result error
	for i := len(hooks) - 1; i >= 0; i-- {
		result = errors.Join(result, m.run(ctx, hooks[i]))
	}
	return result
}

func (m *Manager) run(ctx context.Context, h hook) error {
	if err := h.fn(ctx); err != nil {
		m.logger.Error("shutdown hook failed", zap.String("component", h.name), zap.Error(err))
		return err
	}
	m.logger.Info("component stopped", zap.String("component", h.name))
	return nil
}

// Listen invokes cancel on the first SIGTERM or SIGINT.
func (m *Manager) Listen(cancel context.CancelFunc) {
	if cancel == nil {
		return
	}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		defer signal.Stop(sigCh)
		sig := <-sigCh
		m.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		cancel()
	}()
}
