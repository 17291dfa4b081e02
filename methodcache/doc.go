// Package methodcache caches method results.
//
// Register a method and its settings, then call it through the Interceptor,
// usually from a decorator implementing the same interface as the wrapped
// service:
//
//	type CachedUserService struct {
//		base        UserService
//		interceptor *methodcache.Interceptor
//	}
//
//	func (s *CachedUserService) GetByID(ctx context.Context, id string) (*User, error) {
//		return methodcache.Call[*User](ctx, s.interceptor, getByID, s.base, id)
//	}
//
// The OutputCache filter looks the call up by its cache key. Fresh entries
// are returned directly. Stale entries inside the stale-while-revalidate
// window are returned too and refreshed in the background by a phoenix. On
// a miss one caller per key runs the real call while the others wait for its
// result.
//
// Context values attached with WithVaryValue take part in the key when the
// method's VaryByCustom settings name them.
package methodcache
