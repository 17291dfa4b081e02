package interception

import (
	"context"
	"fmt"
	"sort"

	goerrors "github.com/goliatone/go-errors"
	"github.com/rs/zerolog"
)

// Pipeline runs calls through ordered action filters and exception filters.
// A Pipeline is immutable and safe for concurrent use.
type Pipeline struct {
	filters          []ActionFilter
	exceptionFilters []ExceptionFilter
	logger           zerolog.Logger
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

func WithActionFilters(filters ...ActionFilter) PipelineOption {
	return func(p *Pipeline) {
		p.filters = append(p.filters, filters...)
	}
}

func WithExceptionFilters(filters ...ExceptionFilter) PipelineOption {
	return func(p *Pipeline) {
		p.exceptionFilters = append(p.exceptionFilters, filters...)
	}
}

func WithLogger(logger zerolog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(p)
	}
	sort.SliceStable(p.filters, func(i, j int) bool {
		return p.filters[i].Order() < p.filters[j].Order()
	})
	return p
}

// Invoke runs inv through the filters. Async methods return a Future result
// immediately; the filters and the call then run in its goroutine, with the
// same semantics as the synchronous path.
func (p *Pipeline) Invoke(ctx context.Context, inv Invocation, values Values) (Result, error) {
	if inv.Method().Async {
		return FutureResult(Go(ctx, func(ctx context.Context) (any, error) {
			return p.run(ctx, inv, values)
		})), nil
	}

	v, err := p.run(ctx, inv, values)
	if err != nil {
		return Result{}, err
	}
	return ValueResult(v), nil
}

func (p *Pipeline) run(ctx context.Context, inv Invocation, values Values) (any, error) {
	ac := newActionContext(inv, values)
	defer ac.runCleanups()

	entered := 0
	for _, f := range p.filters {
		entered++
		if err := f.OnExecuting(ctx, ac); err != nil {
			return p.handle(ctx, ac, err)
		}
		if ac.hasResult {
			ac.shortCircuited = true
			break
		}
	}

	if !ac.hasResult {
		r, err := inv.Proceed(ctx)
		if err != nil {
			return p.handle(ctx, ac, err)
		}
		v, err := r.Await(ctx)
		if err != nil {
			return p.handle(ctx, ac, err)
		}
		ac.SetResult(ValueResult(v))
	}

	for i := entered - 1; i >= 0; i-- {
		if err := p.filters[i].OnExecuted(ctx, ac); err != nil {
			return p.handle(ctx, ac, err)
		}
	}

	v, err := ac.result.Await(ctx)
	if err != nil {
		return p.handle(ctx, ac, err)
	}
	inv.SetReturnValue(ValueResult(v))
	return v, nil
}

// handle runs the exception filters in registration order. The first filter
// that handles the error decides the result; unhandled errors propagate
// unchanged.
func (p *Pipeline) handle(ctx context.Context, ac *ActionContext, err error) (any, error) {
	ec := &ExceptionContext{
		Invocation: ac.Invocation,
		Values:     ac.Values,
		Items:      ac.Items,
		Err:        err,
	}

	for _, f := range p.exceptionFilters {
		if ferr := f.OnException(ctx, ec); ferr != nil {
			p.logger.Error().Err(ferr).AnErr("original", err).
				Str("method", ac.Invocation.Method().ID()).
				Msg("exception filter failed")
			return nil, goerrors.Wrap(ferr, goerrors.CategoryInternal,
				fmt.Sprintf("exception filter failed while handling %q", err.Error())).
				WithTextCode("FILTER_FAILED")
		}
		if ec.handled {
			v, aerr := ec.result.Await(ctx)
			if aerr != nil {
				return nil, aerr
			}
			ac.Invocation.SetReturnValue(ValueResult(v))
			return v, nil
		}
	}

	return nil, err
}
