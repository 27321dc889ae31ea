package wire

// Buffer is a growable byte buffer with amortized allocation: capacity only
// ever increases, and only when a caller asks for more than it has. It
// replaces the reallocate-if-bigger pattern used for interpolated frames and
// serial queries, keeping the alloc/free pairing in one place.
type Buffer struct {
	data []byte
	n    int
}

// EnsureCapacity grows the backing array to hold at least n bytes. Existing
// contents are preserved. The buffer never shrinks.
func (b *Buffer) EnsureCapacity(n int) {
	if n <= cap(b.data) {
		return
	}
	grown := make([]byte, n)
	copy(grown, b.data[:b.n])
	b.data = grown
}

// SetLen records the number of valid bytes. It grows capacity if needed.
func (b *Buffer) SetLen(n int) {
	b.EnsureCapacity(n)
	b.n = n
}

// Len returns the number of valid bytes.
func (b *Buffer) Len() int { return b.n }

// Cap returns the current capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

// Bytes returns the valid portion of the buffer. The slice aliases the
// backing array and is invalidated by the next EnsureCapacity that grows.
func (b *Buffer) Bytes() []byte { return b.data[:b.n:cap(b.data)] }

// Raw returns the full backing array up to capacity, for use as a
// destination when the valid length is not yet known.
func (b *Buffer) Raw() []byte { return b.data[:cap(b.data)] }
