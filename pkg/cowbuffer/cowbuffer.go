// Package cowbuffer implements a cheap-to-share byte buffer with
// copy-on-write mutation, the backing store for RTP packets and other
// wire-format values that are read far more often than they are written.
package cowbuffer

// Buffer is an opaque byte container with shared ownership of its backing
// storage. Reads never copy; any mutating call that would observe a shared
// backing array clones it first so other holders of the same Buffer are
// unaffected. A zero-length Buffer is legal: the zero Buffer's Data()
// returns nil, while one built by New from empty data returns an empty,
// non-nil slice.
type Buffer struct {
	data *shared
}

type shared struct {
	bytes []byte
	refs  *int32
}

// New copies src into a freshly owned Buffer.
func New(src []byte) Buffer {
	buf := make([]byte, len(src))
	copy(buf, src)
	refs := int32(1)
	return Buffer{data: &shared{bytes: buf, refs: &refs}}
}

// NewWithCapacity allocates an empty Buffer with the given backing capacity.
func NewWithCapacity(capacity int) Buffer {
	refs := int32(1)
	return Buffer{data: &shared{bytes: make([]byte, 0, capacity), refs: &refs}}
}

// Clone returns a Buffer sharing the same backing storage as b; both copies
// observe a copy-on-write split the first time either one mutates.
func (b Buffer) Clone() Buffer {
	if b.data == nil {
		return Buffer{}
	}
	*b.data.refs++
	return b
}

// Size returns the number of valid bytes.
func (b Buffer) Size() int {
	if b.data == nil {
		return 0
	}
	return len(b.data.bytes)
}

// Capacity returns the backing array's capacity.
func (b Buffer) Capacity() int {
	if b.data == nil {
		return 0
	}
	return cap(b.data.bytes)
}

// Empty reports whether Size() == 0.
func (b Buffer) Empty() bool { return b.Size() == 0 }

// Data returns a read-only view of the buffer's bytes. The slice is valid
// only until the next mutating call on any Buffer sharing this backing
// store (EnsureCapacity, SetData, Append, Clear).
func (b Buffer) Data() []byte {
	if b.data == nil {
		return nil
	}
	return b.data.bytes
}

// MutableData returns a slice that is safe to write into, detaching from
// any other holder of the same backing storage first.
func (b *Buffer) MutableData() []byte {
	b.detach()
	return b.data.bytes
}

func (b *Buffer) detach() {
	if b.data == nil {
		refs := int32(1)
		b.data = &shared{refs: &refs}
		return
	}
	if *b.data.refs <= 1 {
		return
	}
	*b.data.refs--
	cloned := make([]byte, len(b.data.bytes), cap(b.data.bytes))
	copy(cloned, b.data.bytes)
	refs := int32(1)
	b.data = &shared{bytes: cloned, refs: &refs}
}

// SetData replaces the buffer's contents with a copy of src.
func (b *Buffer) SetData(src []byte) {
	b.detach()
	if cap(b.data.bytes) >= len(src) {
		b.data.bytes = b.data.bytes[:len(src)]
	} else {
		b.data.bytes = make([]byte, len(src))
	}
	copy(b.data.bytes, src)
}

// EnsureCapacity grows the backing array, preserving existing bytes, so that
// at least capacity bytes can be held without reallocating again.
func (b *Buffer) EnsureCapacity(capacity int) {
	b.detach()
	if cap(b.data.bytes) >= capacity {
		return
	}
	grown := make([]byte, len(b.data.bytes), capacity)
	copy(grown, b.data.bytes)
	b.data.bytes = grown
}

// SetSize resizes the valid-byte window, growing the backing array and
// zero-filling new bytes if necessary; it never truncates capacity.
func (b *Buffer) SetSize(size int) {
	b.EnsureCapacity(size)
	old := len(b.data.bytes)
	b.data.bytes = b.data.bytes[:size]
	if size > old {
		clear(b.data.bytes[old:size])
	}
}

// Append appends src to the buffer, growing capacity if needed.
func (b *Buffer) Append(src []byte) {
	b.detach()
	b.data.bytes = append(b.data.bytes, src...)
}

// Clear empties the buffer without releasing backing capacity.
func (b *Buffer) Clear() {
	b.detach()
	b.data.bytes = b.data.bytes[:0]
}
