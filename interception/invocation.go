package interception

import (
	"context"
	"sync"

	goerrors "github.com/goliatone/go-errors"
)

// ErrNotInterceptable is returned when a method has no implementation to
// proceed to.
var ErrNotInterceptable = goerrors.New("method has no implementation to invoke", goerrors.CategoryValidation).
	WithTextCode("NOT_INTERCEPTABLE")

// Values is the invocation context: ambient values used for vary-by-custom
// key segments plus the resolved cache settings.
type Values map[string]any

// Invocation describes one call flowing through the pipeline.
type Invocation interface {
	Method() *Method
	Arguments() []any
	Target() any
	// Proceed runs the real implementation.
	Proceed(ctx context.Context) (Result, error)
	ReturnValue() (Result, bool)
	SetReturnValue(Result)
}

// MethodInvocation is the default Invocation for a Method called against a
// target.
type MethodInvocation struct {
	method *Method
	target any
	args   []any

	mu        sync.Mutex
	result    Result
	hasResult bool
}

func NewInvocation(method *Method, target any, args []any) *MethodInvocation {
	return &MethodInvocation{method: method, target: target, args: args}
}

func (i *MethodInvocation) Method() *Method  { return i.method }
func (i *MethodInvocation) Arguments() []any { return i.args }
func (i *MethodInvocation) Target() any      { return i.target }

func (i *MethodInvocation) Proceed(ctx context.Context) (Result, error) {
	return i.method.Call(ctx, i.target, i.args)
}

func (i *MethodInvocation) ReturnValue() (Result, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.result, i.hasResult
}

func (i *MethodInvocation) SetReturnValue(r Result) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.result = r
	i.hasResult = true
}
