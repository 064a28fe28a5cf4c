package types

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// ErrMalformed is the root of all decode failures.
var ErrMalformed = errors.New("types: malformed encoding")

func malformed(what string) error { return fmt.Errorf("%w: %s", ErrMalformed, what) }

// reader walks an immutable byte slice; all reads are bounds-checked and
// uvarints must be minimally encoded so that decode∘encode is the identity.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) byte() (byte, error) {
	if r.remaining() < 1 {
		return 0, malformed("truncated")
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) fixed(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, malformed("truncated")
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:r.off+n])
	r.off += n
	return out, nil
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, malformed("bad uvarint")
	}
	var tmp [binary.MaxVarintLen64]byte
	if binary.PutUvarint(tmp[:], v) != n {
		return 0, malformed("non-minimal uvarint")
	}
	r.off += n
	return v, nil
}

func (r *reader) bytesVar(max int) ([]byte, error) {
	n, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if n > uint64(max) || n > uint64(r.remaining()) {
		return nil, malformed("length out of range")
	}
	return r.fixed(int(n))
}

type writer struct{ buf []byte }

func (w *writer) byte(b byte)    { w.buf = append(w.buf, b) }
func (w *writer) fixed(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) uvarint(v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	w.buf = append(w.buf, tmp[:binary.PutUvarint(tmp[:], v)]...)
}
func (w *writer) bytesVar(b []byte) {
	w.uvarint(uint64(len(b)))
	w.fixed(b)
}
