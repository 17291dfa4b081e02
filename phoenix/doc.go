// Package phoenix keeps cached entries warm in the background.
//
// A Phoenix owns the refresh lifecycle of one entry:
//
//	Alive/InActive --Reborn--> Raising --value--> Alive/InActive
//	                                   --nil----> Disposing (entry removed)
//	                                   --error--> retry after RetryBackoff
//
// Auto refreshing phoenixes reissue the call every Duration. The others
// refresh only when a stale read or a revalidation asks for it and dispose
// themselves once Duration plus StaleWhileRevalidate passes without one.
package phoenix
