// Package hash provides the domain separated blake3 hash used for session identifiers and commitments.
package hash

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/zeebo/blake3"
)

const (
	// SecBytes is the length of decommitments.
	SecBytes = 32
	// DigestLengthBytes is the length of Sum, and of commitments.
	DigestLengthBytes = 2 * SecBytes
)

// WriterToWithDomain is a value that can be absorbed by a Hash.
// The domain is written along with the value so that values of different types never collide.
type WriterToWithDomain interface {
	io.WriterTo
	Domain() string
}

// BytesWithDomain absorbs raw bytes under an arbitrary domain.
type BytesWithDomain struct {
	TheDomain string
	Bytes     []byte
}

// WriteTo writes the length of Bytes, then Bytes.
func (b BytesWithDomain) WriteTo(w io.Writer) (int64, error) {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b.Bytes)))
	n0, err := w.Write(l[:])
	if err != nil {
		return int64(n0), err
	}
	n1, err := w.Write(b.Bytes)
	return int64(n0 + n1), err
}

func (b BytesWithDomain) Domain() string { return b.TheDomain }

// Hash is an extendable blake3 state into which typed values are written.
type Hash struct {
	h *blake3.Hasher
}

// New returns a Hash that already absorbed each of initialData.
func New(initialData ...WriterToWithDomain) *Hash {
	hash := &Hash{h: blake3.New()}
	_, _ = hash.h.Write([]byte("tssd"))
	for _, d := range initialData {
		_ = hash.WriteAny(d)
	}
	return hash
}

// WriteAny absorbs each value of data, which must be a []byte, a string or a WriterToWithDomain.
func (hash *Hash) WriteAny(data ...interface{}) error {
	for _, d := range data {
		var v WriterToWithDomain
		switch t := d.(type) {
		case []byte:
			v = BytesWithDomain{TheDomain: "[]byte", Bytes: t}
		case string:
			v = BytesWithDomain{TheDomain: "string", Bytes: []byte(t)}
		case WriterToWithDomain:
			v = t
		default:
			return fmt.Errorf("hash: unsupported type %T", d)
		}
		if err := hash.absorb(v); err != nil {
			return fmt.Errorf("hash: write %s: %w", v.Domain(), err)
		}
	}
	return nil
}

// absorb writes "(" ‖ len(domain) ‖ domain ‖ value ‖ ")".
func (hash *Hash) absorb(v WriterToWithDomain) error {
	domain := v.Domain()
	header := make([]byte, 0, 3+len(domain))
	header = append(header, '(')
	header = binary.BigEndian.AppendUint16(header, uint16(len(domain)))
	header = append(header, domain...)
	_, _ = hash.h.Write(header)
	if _, err := v.WriteTo(hash.h); err != nil {
		return err
	}
	_, _ = hash.h.Write([]byte{')'})
	return nil
}

// Sum returns DigestLengthBytes of output without modifying the state.
func (hash *Hash) Sum() []byte {
	out := make([]byte, DigestLengthBytes)
	if _, err := io.ReadFull(hash.h.Digest(), out); err != nil {
		panic(fmt.Sprintf("hash: blake3 digest failed: %v", err))
	}
	return out
}

// Clone returns an independent copy of the current state.
func (hash *Hash) Clone() *Hash {
	return &Hash{h: hash.h.Clone()}
}
