// Package recovery runs the startup recovery steps that bring persisted state back to
// a consistent point after a restart: stale outbox sends and missing outcome rows.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Recoverable is a component that repairs its persisted state at startup.
type Recoverable interface {
	RecoverState(ctx context.Context) error
}

// Func adapts a function to Recoverable.
type Func func(ctx context.Context) error

// RecoverState implements Recoverable.
func (f Func) RecoverState(ctx context.Context) error {
	return f(ctx)
}

type component struct {
	name string
	r    Recoverable
}

// Manager runs registered components in registration order.
type Manager struct {
	components []component
}

// NewManager creates an empty Manager.
func NewManager() *Manager {
	return &Manager{}
}

// Register adds a component under a name used in logs and errors.
func (m *Manager) Register(name string, r Recoverable) {
	m.components = append(m.components, component{name: name, r: r})
}

// Len returns the number of registered components.
func (m *Manager) Len() int {
	return len(m.components)
}

// RecoverAll runs every component. A failing component does not stop the others; the
// returned error joins all failures.
func (m *Manager) RecoverAll(ctx context.Context) error {
	slog.Info("Manager.RecoverAll: starting recovery", "components", len(m.components))

	var errs []error
	for _, c := range m.components {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := c.r.RecoverState(ctx); err != nil {
			slog.Error("Manager.RecoverAll: component recovery failed", "component", c.name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.name, err))
			continue
		}
		slog.Debug("Manager.RecoverAll: component recovered", "component", c.name)
	}

	slog.Info("Manager.RecoverAll: recovery completed", "recovered", len(m.components)-len(errs), "errors", len(errs))
	return errors.Join(errs...)
}
