// Package module defines the lifecycle every feature of the server follows:
// all modules Register their shared services, then each one Boots with its
// own route group, and on exit each one Shuts down.
package module

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/nfrund/watchparty/internal/registry"
)

type Module interface {
	// Name is unique. Routes are mounted under /ws/<name>.
	Name() string

	// Register publishes services other modules look up during Boot.
	Register(reg *registry.Registry) error

	// Boot mounts routes on g and starts background work bound to ctx.
	Boot(ctx context.Context, g *echo.Group, reg *registry.Registry) error

	// Shutdown closes live connections and stops timers.
	Shutdown(ctx context.Context) error
}

// BaseModule gives no-op lifecycle methods to modules that embed it.
type BaseModule struct{}

func (*BaseModule) Register(*registry.Registry) error { return nil }
func (*BaseModule) Boot(context.Context, *echo.Group, *registry.Registry) error { return nil }
func (*BaseModule) Shutdown(context.Context) error { return nil }

// Start registers every module and then boots each one on its own group
// under parent. It stops at the first failure.
func Start(ctx context.Context, parent *echo.Group, reg *registry.Registry, modules []Module) error {
	for _, m := range modules {
		if err := m.Register(reg); err != nil {
			return fmt.Errorf("register module %s: %w", m.Name(), err)
		}
	}
	for _, m := range modules {
		slog.Info("Booting module", "module", m.Name())
		if err := m.Boot(ctx, parent.Group("/"+m.Name()), reg); err != nil {
			return fmt.Errorf("boot module %s: %w", m.Name(), err)
		}
	}
	return nil
}

// Stop shuts down every module, in reverse boot order, and joins the errors.
func Stop(ctx context.Context, modules []Module) error {
	var errs []error
	for i := len(modules) - 1; i >= 0; i-- {
		m := modules[i]
		if err := m.Shutdown(ctx); err != nil {
			slog.Error("Module shutdown failed", "module", m.Name(), "error", err)
			errs = append(errs, fmt.Errorf("shutdown module %s: %w", m.Name(), err))
		}
	}
	return errors.Join(errs...)
}
