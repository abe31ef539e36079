package subcache

import "context"

// Request is a cacheable operation. The request value is its own cache key.
//
//	type userByID struct {
//		subcache.InvalidatedByAny[subcache.Everything]
//		ID int
//	}
//
//	func (r userByID) Compare(o userByID) int { return cmp.Compare(r.ID, o.ID) }
//	func (r userByID) Send(ctx context.Context) (User, error) { return api.User(ctx, r.ID) }
type Request[R any, M any, V any] interface {
	Keyable[R, M]
	// Send performs the fetch. Timeouts are up to the implementation; ctx is
	// cancelled when the cache is closed.
	Send(ctx context.Context) (V, error)
}

// Subsumer is optionally implemented by requests whose result can be derived
// from a broader cached request (e.g. one page out of a cached full listing).
// Both methods run without the cache lock and may call back into the cache.
// A seed is dropped, and the request fetched instead, when its entry is
// invalidated or filled while Narrow runs.
type Subsumer[R any, V any] interface {
	// Superset lists broader requests, most preferred first.
	Superset() []R
	// Narrow derives this request's value from the value of superset.
	Narrow(superset R, value V) (V, bool)
}
