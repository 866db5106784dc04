package round

import (
	"encoding/binary"
	"io"
	"strconv"
)

// Number is the index of the current round.
// 0 indicates the output round, 1 is the first round.
type Number uint16

// WriteTo implements io.WriterTo interface.
func (i Number) WriteTo(w io.Writer) (int64, error) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], uint16(i))
	n, err := w.Write(b[:])
	return int64(n), err
}

// Domain implements hash.WriterToWithDomain.
func (Number) Domain() string {
	return "Round Number"
}

// String returns the decimal representation used on the wire.
func (i Number) String() string {
	return strconv.FormatUint(uint64(i), 10)
}
