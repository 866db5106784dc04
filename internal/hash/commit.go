package hash

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"io"
)

// Commitment is h(data ‖ decommitment).
type Commitment []byte

// Decommitment is the random nonce opening a Commitment.
type Decommitment []byte

func (c Commitment) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(c)
	return int64(n), err
}

func (Commitment) Domain() string { return "Commitment" }

// Validate checks the length of c.
func (c Commitment) Validate() error {
	return checkLength("commitment", len(c), DigestLengthBytes)
}

func (d Decommitment) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(d)
	return int64(n), err
}

func (Decommitment) Domain() string { return "Decommitment" }

// Validate checks the length of d.
func (d Decommitment) Validate() error {
	return checkLength("decommitment", len(d), SecBytes)
}

func checkLength(name string, got, expected int) error {
	if got != expected {
		return fmt.Errorf("hash: %s has length %d, expected %d", name, got, expected)
	}
	return nil
}

// Commit binds the current state and data to a fresh decommitment.
func (hash *Hash) Commit(data ...interface{}) (Commitment, Decommitment, error) {
	d := make(Decommitment, SecBytes)
	if _, err := rand.Read(d); err != nil {
		return nil, nil, fmt.Errorf("hash: decommitment: %w", err)
	}
	c, err := hash.commitment(d, data)
	if err != nil {
		return nil, nil, err
	}
	return c, d, nil
}

// Decommit returns true if c was produced by Commit with the same state, data and d.
func (hash *Hash) Decommit(c Commitment, d Decommitment, data ...interface{}) bool {
	if c.Validate() != nil || d.Validate() != nil {
		return false
	}
	expected, err := hash.commitment(d, data)
	return err == nil && bytes.Equal(expected, c)
}

func (hash *Hash) commitment(d Decommitment, data []interface{}) (Commitment, error) {
	h := hash.Clone()
	if err := h.WriteAny(data...); err != nil {
		return nil, err
	}
	if err := h.WriteAny(d); err != nil {
		return nil, err
	}
	return h.Sum(), nil
}
