package interception

import (
	"context"
	"fmt"

	goerrors "github.com/goliatone/go-errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// ErrNoFactory is returned by FactoryActivator for types without a
// registered factory.
var ErrNoFactory = goerrors.New("no factory registered for declaring type", goerrors.CategoryNotFound).
	WithTextCode("NO_FACTORY")

// Activator produces fresh instances of a declaring type for background
// refreshes.
type Activator interface {
	CreateInstance(ctx context.Context, declaringType string) (any, error)
}

// ActivatorFunc adapts a function to Activator.
type ActivatorFunc func(ctx context.Context, declaringType string) (any, error)

func (f ActivatorFunc) CreateInstance(ctx context.Context, declaringType string) (any, error) {
	return f(ctx, declaringType)
}

// Factory creates an instance of one declaring type.
type Factory func(ctx context.Context) (any, error)

// FactoryActivator resolves instances through factories registered per
// declaring type.
type FactoryActivator struct {
	factories *xsync.MapOf[string, Factory]
}

func NewFactoryActivator() *FactoryActivator {
	return &FactoryActivator{factories: xsync.NewMapOf[string, Factory]()}
}

func (a *FactoryActivator) Register(declaringType string, factory Factory) {
	a.factories.Store(declaringType, factory)
}

func (a *FactoryActivator) CreateInstance(ctx context.Context, declaringType string) (any, error) {
	factory, ok := a.factories.Load(declaringType)
	if !ok {
		return nil, ErrNoFactory
	}
	instance, err := factory(ctx)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", declaringType, err)
	}
	return instance, nil
}
