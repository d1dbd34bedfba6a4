// Package byteseq implements the growable byte buffer primitive used by
// the backplate framing code, translated from bytes.h: doubling growth,
// pre/post append, shift-from-front, and substring search, all without
// reslicing surprises for callers that hold on to the buffer across
// repeated frame reads.
package byteseq

// initialCap matches bytes_extend_buf's starting allocation of 0x10
// bytes in the original.
const initialCap = 0x10

// Buffer is a growable byte sequence. The zero value is an empty,
// unallocated buffer ready to use.
type Buffer struct {
	buf []byte
}

// Len returns the number of bytes currently held.
func (b *Buffer) Len() int {
	return len(b.buf)
}

// Bytes returns the buffer's contents. The returned slice is only valid
// until the next mutating call.
func (b *Buffer) Bytes() []byte {
	return b.buf
}

func (b *Buffer) grow(extra int) {
	need := len(b.buf) + extra
	if cap(b.buf) >= need {
		return
	}
	newCap := cap(b.buf)
	if newCap == 0 {
		newCap = initialCap
	}
	for newCap < need {
		newCap *= 2
	}
	grown := make([]byte, len(b.buf), newCap)
	copy(grown, b.buf)
	b.buf = grown
}

// Append adds p to the end of the buffer (bytes_postappend).
func (b *Buffer) Append(p []byte) {
	b.grow(len(p))
	b.buf = append(b.buf, p...)
}

// Prepend adds p to the front of the buffer (bytes_preappend), shifting
// existing contents to the right.
func (b *Buffer) Prepend(p []byte) {
	b.grow(len(p))
	b.buf = append(b.buf, make([]byte, len(p))...)
	copy(b.buf[len(p):], b.buf)
	copy(b.buf, p)
}

// Shift removes and returns the first n bytes, sliding the remainder to
// the front (bytes_shift). Shifting more bytes than are present returns
// the whole buffer and empties it.
func (b *Buffer) Shift(n int) []byte {
	if n >= len(b.buf) {
		out := b.buf
		b.buf = b.buf[:0]
		return out
	}
	out := make([]byte, n)
	copy(out, b.buf[:n])
	b.buf = append(b.buf[:0], b.buf[n:]...)
	return out
}

// Find returns the index of the first occurrence of needle at or after
// start, or -1 if not present (bytes_find).
func (b *Buffer) Find(needle []byte, start int) int {
	if start < 0 || start > len(b.buf) || len(needle) == 0 {
		return -1
	}
	hay := b.buf[start:]
	for i := 0; i+len(needle) <= len(hay); i++ {
		if equal(hay[i:i+len(needle)], needle) {
			return start + i
		}
	}
	return -1
}

func equal(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Reset empties the buffer without releasing its backing array
// (bytes_reset), so the next sequence of Appends reuses the allocation.
func (b *Buffer) Reset() {
	b.buf = b.buf[:0]
}
