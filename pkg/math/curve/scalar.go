package curve

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// BytesScalar is the length of a marshalled Scalar.
const BytesScalar = 32

// Scalar is an integer modulo the order of the secp256k1 group.
type Scalar struct {
	s secp256k1.ModNScalar
}

// NewScalar returns a new zero Scalar.
func NewScalar() *Scalar {
	return &Scalar{}
}

// NewScalarRandom samples a uniformly random non-zero Scalar from rand.Reader.
func NewScalarRandom() (*Scalar, error) {
	return NewScalar().Random(rand.Reader)
}

// Random sets s to a uniformly random non-zero Scalar read from r, and returns s.
func (s *Scalar) Random(r io.Reader) (*Scalar, error) {
	var buf [BytesScalar]byte
	for {
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return nil, fmt.Errorf("curve.Scalar.Random: %w", err)
		}
		if overflow := s.s.SetBytes(&buf); overflow == 0 && !s.s.IsZero() {
			return s, nil
		}
	}
}

// SetUInt32 sets s = i, and returns s.
func (s *Scalar) SetUInt32(i uint32) *Scalar {
	s.s.SetInt(i)
	return s
}

// Set sets s = x, and returns s.
func (s *Scalar) Set(x *Scalar) *Scalar {
	s.s.Set(&x.s)
	return s
}

// Add sets s = x + y mod q, and returns s.
func (s *Scalar) Add(x, y *Scalar) *Scalar {
	s.s.Add2(&x.s, &y.s)
	return s
}

// Subtract sets s = x - y mod q, and returns s.
func (s *Scalar) Subtract(x, y *Scalar) *Scalar {
	var negY secp256k1.ModNScalar
	negY.NegateVal(&y.s)
	s.s.Add2(&x.s, &negY)
	return s
}

// Multiply sets s = x * y mod q, and returns s.
func (s *Scalar) Multiply(x, y *Scalar) *Scalar {
	s.s.Mul2(&x.s, &y.s)
	return s
}

// Equal returns true if s == x.
func (s *Scalar) Equal(x *Scalar) bool {
	return s.s.Equals(&x.s)
}

// IsZero returns true if s == 0.
func (s *Scalar) IsZero() bool {
	return s.s.IsZero()
}

// ActOnBase returns s⋅G.
func (s *Scalar) ActOnBase() *Point {
	return NewIdentityPoint().ScalarBaseMult(s)
}

// MarshalBinary implements encoding.BinaryMarshaler.
func (s *Scalar) MarshalBinary() ([]byte, error) {
	data := s.s.Bytes()
	return data[:], nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (s *Scalar) UnmarshalBinary(data []byte) error {
	if len(data) != BytesScalar {
		return fmt.Errorf("curve.Scalar.UnmarshalBinary: invalid length %d", len(data))
	}
	var scalar secp256k1.ModNScalar
	if scalar.SetByteSlice(data) {
		return errors.New("curve.Scalar.UnmarshalBinary: scalar was >= q")
	}
	s.s.Set(&scalar)
	return nil
}
