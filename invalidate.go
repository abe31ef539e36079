package subcache

// Everything is the default mutation type: a single event that invalidates
// every key which does not narrow InvalidatedBy.
type Everything struct{}

// Invalidatable is implemented by every key type.
type Invalidatable[M any] interface {
	// InvalidatedBy reports whether mutation m makes this key's cached value stale.
	InvalidatedBy(m M) bool
}

// Invalidator is implemented by write operations that know which mutations they
// caused. See InvalidateFrom and redisfeed.Feed.PublishFrom.
type Invalidator[M any] interface {
	Mutations() []M
}

// InvalidatedByAny can be embedded in a key type to get the default behavior:
// every mutation invalidates the key.
type InvalidatedByAny[M any] struct{}

func (InvalidatedByAny[M]) InvalidatedBy(M) bool { return true }
