package subcache

import (
	"cmp"
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"
)

// Keyable is the contract for a concrete key type K.
//
// Compare must be a total order over K and returns <0, 0 or >0 like cmp.Compare.
// Two keys of the same type are equal iff Compare returns 0.
// Key types may implement Cloner[K]; otherwise a Go value copy is the clone, so
// key types holding slices or maps that callers mutate should implement it.
type Keyable[K any, M any] interface {
	Compare(other K) int
	Invalidatable[M]
}

// Cloner is optionally implemented by key types that need a deep copy before
// being stored in the cache.
type Cloner[K any] interface {
	Clone() K
}

// Key is a type-erased key. Keys of different concrete types are never equal
// and are ordered by a per-type tag, so any mix of key types forms one total order.
type Key[M any] interface {
	Equal(other Key[M]) bool
	Compare(other Key[M]) int
	Clone() Key[M]
	InvalidatedBy(m M) bool
	// Unwrap returns the concrete key.
	Unwrap() any
	String() string

	typeTag() uint64
}

// Type tags are handed out in first-use order and never change for the life of
// the process.
var (
	typeTags sync.Map // reflect.Type -> uint64
	nextTag  atomic.Uint64
)

func tagFor(t reflect.Type) uint64 {
	if v, ok := typeTags.Load(t); ok {
		return v.(uint64)
	}
	v, _ := typeTags.LoadOrStore(t, nextTag.Add(1))
	return v.(uint64)
}

type erasedKey[K Keyable[K, M], M any] struct {
	k   K
	tag uint64
}

// KeyOf erases k.
func KeyOf[K Keyable[K, M], M any](k K) Key[M] {
	return erasedKey[K, M]{k: k, tag: tagFor(reflect.TypeFor[K]())}
}

func (e erasedKey[K, M]) typeTag() uint64 { return e.tag }

func (e erasedKey[K, M]) Compare(other Key[M]) int {
	if ot := other.typeTag(); ot != e.tag {
		return cmp.Compare(e.tag, ot)
	}
	o, ok := other.(erasedKey[K, M])
	if !ok {
		panic(fmt.Sprintf("subcache: type tag %d shared by %T and %T", e.tag, e.k, other.Unwrap()))
	}
	return e.k.Compare(o.k)
}

func (e erasedKey[K, M]) Equal(other Key[M]) bool {
	if other.typeTag() != e.tag {
		return false
	}
	return e.Compare(other) == 0
}

func (e erasedKey[K, M]) Clone() Key[M] {
	if c, ok := any(e.k).(Cloner[K]); ok {
		return erasedKey[K, M]{k: c.Clone(), tag: e.tag}
	}
	return e
}

func (e erasedKey[K, M]) InvalidatedBy(m M) bool { return e.k.InvalidatedBy(m) }

func (e erasedKey[K, M]) Unwrap() any { return e.k }

func (e erasedKey[K, M]) String() string {
	return fmt.Sprintf("%T(%v)", e.k, e.k)
}

// ordered adapts builtin ordered types (strings, ints, floats) to Keyable.
type ordered[T cmp.Ordered, M any] struct {
	InvalidatedByAny[M]
	V T
}

func (o ordered[T, M]) Compare(other ordered[T, M]) int { return cmp.Compare(o.V, other.V) }

func (o ordered[T, M]) String() string { return fmt.Sprint(o.V) }

// OrderedKey erases a builtin ordered value. Such keys are invalidated by every mutation.
func OrderedKey[T cmp.Ordered, M any](v T) Key[M] {
	return KeyOf[ordered[T, M], M](ordered[T, M]{V: v})
}
