// Package interception wraps method calls with an ordered chain of filters.
//
// Methods are described once with MethodBuilder and invoked through a
// Pipeline:
//
//	getByID := interception.NewMethod("UserService", "GetByID").
//		Param("id", interception.TypeOf[string]()).
//		Returns(interception.TypeOf[*User]()).
//		Invoke(func(ctx context.Context, target any, args []any) (any, error) {
//			return target.(*UserService).GetByID(ctx, args[0].(string))
//		}).
//		Build()
//
//	result, err := pipeline.Invoke(ctx, interception.NewInvocation(getByID, svc, []any{"42"}), nil)
//
// Action filters run ascending by Order while executing and in reverse while
// executed. A filter that sets a result while executing short-circuits the
// rest of the chain and the real call. Errors from the call or any filter go
// to the exception filters in registration order; the first one that handles
// the error supplies the result. Unhandled errors reach the caller unchanged.
//
// Methods declared with ReturnsAsync produce a Future result. Their filters
// run inside the future with the same semantics as synchronous calls.
package interception
