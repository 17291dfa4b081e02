package interception

import "context"

// ActionContext is shared by every action filter of one call, on the way in
// and on the way out.
type ActionContext struct {
	Invocation Invocation
	Values     Values
	// Items carries per-call state between the executing and executed
	// phases of the same filter.
	Items map[string]any

	result         Result
	hasResult      bool
	shortCircuited bool
	cleanups       []func()
}

func newActionContext(inv Invocation, values Values) *ActionContext {
	if values == nil {
		values = Values{}
	}
	return &ActionContext{Invocation: inv, Values: values, Items: map[string]any{}}
}

// SetResult sets the call result. Set while executing, it short-circuits the
// remaining filters and the real implementation.
func (c *ActionContext) SetResult(r Result) {
	c.result = r
	c.hasResult = true
}

func (c *ActionContext) Result() (Result, bool) {
	return c.result, c.hasResult
}

// ShortCircuited reports whether a filter produced the result before the
// real implementation ran.
func (c *ActionContext) ShortCircuited() bool {
	return c.shortCircuited
}

// Defer registers fn to run once the call completes, after exception
// handling. Deferred functions run in reverse order.
func (c *ActionContext) Defer(fn func()) {
	c.cleanups = append(c.cleanups, fn)
}

func (c *ActionContext) runCleanups() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
	c.cleanups = nil
}

// ExceptionContext is passed to exception filters.
type ExceptionContext struct {
	Invocation Invocation
	Values     Values
	Items      map[string]any
	Err        error

	handled bool
	result  Result
}

// Handle marks the error handled and supplies the result returned to the
// caller instead.
func (c *ExceptionContext) Handle(r Result) {
	c.handled = true
	c.result = r
}

func (c *ExceptionContext) Handled() bool {
	return c.handled
}

// ActionFilter wraps calls. Lower Order values run first on the way in and
// last on the way out.
type ActionFilter interface {
	Order() int
	OnExecuting(ctx context.Context, c *ActionContext) error
	OnExecuted(ctx context.Context, c *ActionContext) error
}

// ExceptionFilter may handle an error raised by the call or by a filter.
type ExceptionFilter interface {
	OnException(ctx context.Context, c *ExceptionContext) error
}
