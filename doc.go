// Package subcache is an in-process cache for asynchronous request/response data.
// Many call sites subscribe to the same request, share one in-flight fetch and
// one cached result, and get notified when the result changes or goes stale.
//
// Components:
//   - Value[T]: payload plus validity flag; invalidation keeps the payload.
//   - Key[M]: type-erased key. Keys of unrelated concrete types share one ordered
//     store: they are ordered by a per-type tag first, then by their own Compare.
//   - Request[R, M, V]: a key that knows how to fetch its value (Send).
//   - Cache[M]: ordered map from Key to entry, plus the subscribe / fetch /
//     invalidate protocol. M is the mutation event type.
//
// Entry lifecycle:
//
//	(none) --Subscribe--> pending --Send ok--> ready --Invalidate--> stale
//	                         ^  \--Send err--> failed (retry delay set)   |
//	                         |                      |                     |
//	                         +------ Subscribe -----+---------------------+
//
// Failed fetches back off exponentially (100ms, then x1.5 by default). A
// successful fetch resets the delay. Subscribers only ever see values; errors go
// to the Logger and Hooks.
//
// Usage:
//
//	c, _ := subcache.New[subcache.Everything](subcache.Options{})
//	w, _ := subcache.Watch(c, userByID{ID: 7})
//	defer w.Close()
//	for v := range w.Values() {
//	    if u, ok := v.Data(); ok {
//	        render(u, v.Valid())
//	    }
//	}
package subcache
