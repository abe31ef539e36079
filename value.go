package subcache

// Value is a cached payload plus a validity flag.
// The zero value holds no data and is invalid ("never fetched").
// Invalidate keeps the payload so the last result stays visible while a
// refresh runs.
type Value[T any] struct {
	valid   bool
	present bool
	data    T
}

// SharedValue holds a payload shared by pointer between holders, e.g. goroutines
// rendering the same result.
type SharedValue[T any] = Value[*T]

// NewValue returns a valid value holding data.
func NewValue[T any](data T) Value[T] {
	return Value[T]{valid: true, present: true, data: data}
}

// Share returns a valid shared value pointing at p.
func Share[T any](p *T) SharedValue[T] {
	return NewValue(p)
}

// Data returns the payload, if any. A stale payload is still returned; check Valid.
func (v Value[T]) Data() (T, bool) {
	return v.data, v.present
}

// Valid reports whether the payload is current.
func (v Value[T]) Valid() bool { return v.valid }

// Invalidate marks the value stale without dropping the payload.
func (v *Value[T]) Invalidate() { v.valid = false }

// Erase drops the static payload type.
func (v Value[T]) Erase() Value[any] {
	out := Value[any]{valid: v.valid, present: v.present}
	if v.present {
		out.data = v.data
	}
	return out
}

// Downcast re-types an erased value. It fails when the payload's dynamic type
// is not T. A value without payload downcasts to any T.
func Downcast[T any](v Value[any]) (Value[T], bool) {
	out := Value[T]{valid: v.valid}
	if !v.present {
		return out, true
	}
	data, ok := v.data.(T)
	if !ok {
		// A nil payload fits any interface type T.
		if v.data != nil || any(data) != nil {
			return Value[T]{}, false
		}
	}
	out.present = true
	out.data = data
	return out, true
}
