// Package ptb models the programmable transaction carried in a fetch_keys
// request: a sender plus a sequence of Move calls. Only the shape relevant
// to policy evaluation is modeled; the full node interprets the bytes when
// the transaction is dry-run.
package ptb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/sealkms/seal/internal/types"
)

var ErrMalformed = errors.New("ptb: malformed transaction")

const (
	currentVersion = 0
	maxCommands    = 256
	maxArgs        = 16
	maxNameLen     = 128
	maxArgLen      = 2048
)

// MoveCall is one command: <package>::<module>::<function>(args...).
type MoveCall struct {
	Package  types.ObjectID
	Module   string
	Function string
	Args     [][]byte
}

// Transaction is the minimal canonical transaction form.
type Transaction struct {
	Sender   [32]byte
	Commands []MoveCall
}

// Encode serializes the transaction canonically.
func (t *Transaction) Encode() ([]byte, error) {
	if len(t.Commands) == 0 || len(t.Commands) > maxCommands {
		return nil, ErrMalformed
	}
	var buf []byte
	buf = append(buf, currentVersion)
	buf = append(buf, t.Sender[:]...)
	buf = appendUvarint(buf, uint64(len(t.Commands)))
	for _, c := range t.Commands {
		if len(c.Module) == 0 || len(c.Module) > maxNameLen ||
			len(c.Function) == 0 || len(c.Function) > maxNameLen ||
			len(c.Args) > maxArgs {
			return nil, ErrMalformed
		}
		buf = append(buf, c.Package[:]...)
		buf = appendUvarint(buf, uint64(len(c.Module)))
		buf = append(buf, c.Module...)
		buf = appendUvarint(buf, uint64(len(c.Function)))
		buf = append(buf, c.Function...)
		buf = appendUvarint(buf, uint64(len(c.Args)))
		for _, a := range c.Args {
			if len(a) > maxArgLen {
				return nil, ErrMalformed
			}
			buf = appendUvarint(buf, uint64(len(a)))
			buf = append(buf, a...)
		}
	}
	return buf, nil
}

// Decode parses a canonical transaction, rejecting trailing bytes.
func Decode(b []byte) (*Transaction, error) {
	d := decoder{buf: b}
	v, err := d.byte()
	if err != nil || v != currentVersion {
		return nil, ErrMalformed
	}
	var t Transaction
	sender, err := d.fixed(32)
	if err != nil {
		return nil, err
	}
	copy(t.Sender[:], sender)
	n, err := d.uvarint()
	if err != nil || n == 0 || n > maxCommands {
		return nil, ErrMalformed
	}
	t.Commands = make([]MoveCall, n)
	for i := range t.Commands {
		pkg, err := d.fixed(32)
		if err != nil {
			return nil, err
		}
		copy(t.Commands[i].Package[:], pkg)
		if t.Commands[i].Module, err = d.str(maxNameLen); err != nil {
			return nil, err
		}
		if t.Commands[i].Function, err = d.str(maxNameLen); err != nil {
			return nil, err
		}
		an, err := d.uvarint()
		if err != nil || an > maxArgs {
			return nil, ErrMalformed
		}
		t.Commands[i].Args = make([][]byte, an)
		for j := range t.Commands[i].Args {
			arg, err := d.bytesVar(maxArgLen)
			if err != nil {
				return nil, err
			}
			t.Commands[i].Args[j] = arg
		}
	}
	if d.off != len(d.buf) {
		return nil, ErrMalformed
	}
	return &t, nil
}

// ValidateSealApprove checks the pipeline's stage-4 shape rules: every
// command is a Move call on pkg whose function name starts with
// "seal_approve" and whose first argument is the inner id byte vector.
// It returns the inner ids de-duplicated in first-seen order.
func ValidateSealApprove(t *Transaction, pkg types.ObjectID) ([][]byte, error) {
	if len(t.Commands) == 0 {
		return nil, fmt.Errorf("%w: no commands", ErrMalformed)
	}
	var ids [][]byte
	seen := map[string]struct{}{}
	for _, c := range t.Commands {
		if c.Package != pkg {
			return nil, fmt.Errorf("%w: package mismatch", ErrMalformed)
		}
		if !strings.HasPrefix(c.Function, "seal_approve") {
			return nil, fmt.Errorf("%w: function %q is not a seal_approve call", ErrMalformed, c.Function)
		}
		if len(c.Args) == 0 || len(c.Args[0]) == 0 {
			return nil, fmt.Errorf("%w: missing identity argument", ErrMalformed)
		}
		key := string(c.Args[0])
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		ids = append(ids, c.Args[0])
	}
	return ids, nil
}

type decoder struct {
	buf []byte
	off int
}

func (d *decoder) byte() (byte, error) {
	if d.off >= len(d.buf) {
		return 0, ErrMalformed
	}
	b := d.buf[d.off]
	d.off++
	return b, nil
}

func (d *decoder) fixed(n int) ([]byte, error) {
	if len(d.buf)-d.off < n {
		return nil, ErrMalformed
	}
	out := make([]byte, n)
	copy(out, d.buf[d.off:d.off+n])
	d.off += n
	return out, nil
}

func (d *decoder) uvarint() (uint64, error) {
	v, n := binary.Uvarint(d.buf[d.off:])
	if n <= 0 {
		return 0, ErrMalformed
	}
	var tmp [binary.MaxVarintLen64]byte
	if binary.PutUvarint(tmp[:], v) != n {
		return 0, ErrMalformed
	}
	d.off += n
	return v, nil
}

func (d *decoder) bytesVar(max int) ([]byte, error) {
	n, err := d.uvarint()
	if err != nil || n > uint64(max) {
		return nil, ErrMalformed
	}
	return d.fixed(int(n))
}

func (d *decoder) str(max int) (string, error) {
	b, err := d.bytesVar(max)
	if err != nil || len(b) == 0 {
		return "", ErrMalformed
	}
	return string(b), nil
}

func appendUvarint(buf []byte, v uint64) []byte {
	var tmp [binary.MaxVarintLen64]byte
	return append(buf, tmp[:binary.PutUvarint(tmp[:], v)]...)
}
