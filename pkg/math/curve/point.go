package curve

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// BytesPoint is the length of a marshalled Point in compressed form.
const BytesPoint = 33

// Point is an element of the secp256k1 group.
type Point struct {
	p secp256k1.JacobianPoint
}

// NewIdentityPoint returns the identity element.
func NewIdentityPoint() *Point {
	return &Point{}
}

// NewBasePoint returns the generator G.
func NewBasePoint() *Point {
	return NewIdentityPoint().ScalarBaseMult(NewScalar().SetUInt32(1))
}

// Set sets v = u, and returns v.
func (v *Point) Set(u *Point) *Point {
	v.p.Set(&u.p)
	return v
}

// Add sets v = p + q, and returns v.
func (v *Point) Add(p, q *Point) *Point {
	var out secp256k1.JacobianPoint
	secp256k1.AddNonConst(&p.p, &q.p, &out)
	v.p.Set(&out)
	return v
}

// ScalarBaseMult sets v = s⋅G, and returns v.
func (v *Point) ScalarBaseMult(s *Scalar) *Point {
	secp256k1.ScalarBaseMultNonConst(&s.s, &v.p)
	return v
}

// ScalarMult sets v = s⋅p, and returns v.
func (v *Point) ScalarMult(s *Scalar, p *Point) *Point {
	var out secp256k1.JacobianPoint
	secp256k1.ScalarMultNonConst(&s.s, &p.p, &out)
	v.p.Set(&out)
	return v
}

// IsIdentity returns true if v is the identity element.
func (v *Point) IsIdentity() bool {
	return (v.p.X.IsZero() && v.p.Y.IsZero()) || v.p.Z.IsZero()
}

// Equal returns true if v and u represent the same group element.
func (v *Point) Equal(u *Point) bool {
	if v.IsIdentity() || u.IsIdentity() {
		return v.IsIdentity() && u.IsIdentity()
	}
	var a, b secp256k1.JacobianPoint
	a.Set(&v.p)
	b.Set(&u.p)
	a.ToAffine()
	b.ToAffine()
	return a.X.Equals(&b.X) && a.Y.Equals(&b.Y)
}

// MarshalBinary implements encoding.BinaryMarshaler, using the compressed SEC1 form.
func (v *Point) MarshalBinary() ([]byte, error) {
	if v.IsIdentity() {
		return nil, fmt.Errorf("curve.Point.MarshalBinary: tried to marshal identity")
	}
	var affine secp256k1.JacobianPoint
	affine.Set(&v.p)
	affine.ToAffine()
	return secp256k1.NewPublicKey(&affine.X, &affine.Y).SerializeCompressed(), nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler.
func (v *Point) UnmarshalBinary(data []byte) error {
	if len(data) != BytesPoint {
		return fmt.Errorf("curve.Point.UnmarshalBinary: invalid length %d", len(data))
	}
	pk, err := secp256k1.ParsePubKey(data)
	if err != nil {
		return fmt.Errorf("curve.Point.UnmarshalBinary: %w", err)
	}
	pk.AsJacobian(&v.p)
	return nil
}
