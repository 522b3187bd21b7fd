package cmn

// SmallVec is a generic small-buffer-optimized slice: up to 4 elements live
// inline in the struct (no heap allocation); appends past 4 fall back to a
// regular heap-backed slice. It is the reusable form of the "fixed-size
// array + overflow slice" pattern; the slice index's read path
// (Index.GetSlices) builds its result array with it.
type SmallVec[T any] struct {
	inline   [4]T
	n        int
	overflow []T
}

func (v *SmallVec[T]) Append(x T) {
	if v.overflow != nil {
		v.overflow = append(v.overflow, x)
		return
	}
	if v.n < len(v.inline) {
		v.inline[v.n] = x
		v.n++
		return
	}
	v.overflow = make([]T, v.n, v.n*2+1)
	copy(v.overflow, v.inline[:v.n])
	v.overflow = append(v.overflow, x)
}

func (v *SmallVec[T]) Len() int {
	if v.overflow != nil {
		return len(v.overflow)
	}
	return v.n
}

func (v *SmallVec[T]) At(i int) T {
	if v.overflow != nil {
		return v.overflow[i]
	}
	return v.inline[i]
}

// Slice materializes the contents as a plain slice. Cheap when overflow is
// already in use; allocates a fresh backing array otherwise so callers can't
// mutate the inline storage through the returned slice.
func (v *SmallVec[T]) Slice() []T {
	if v.overflow != nil {
		return v.overflow
	}
	out := make([]T, v.n)
	copy(out, v.inline[:v.n])
	return out
}

func (v *SmallVec[T]) Reset() {
	var zero [4]T
	v.inline = zero
	v.n = 0
	v.overflow = nil
}
