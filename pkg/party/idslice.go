package party

import (
	"encoding/binary"
	"io"
	"sort"
)

// IDSlice is an ordered list of party IDs.
// Unlike a set, the order matters: it defines the party index of each ID.
type IDSlice []ID

// NewIDSlice returns a sorted copy of partyIDs.
func NewIDSlice(partyIDs []ID) IDSlice {
	ids := IDSlice(partyIDs).Copy()
	ids.Sort()
	return ids
}

func (partyIDs IDSlice) Len() int           { return len(partyIDs) }
func (partyIDs IDSlice) Less(i, j int) bool { return partyIDs[i] < partyIDs[j] }
func (partyIDs IDSlice) Swap(i, j int)      { partyIDs[i], partyIDs[j] = partyIDs[j], partyIDs[i] }

// Sort is a convenience method: x.Sort() calls Sort(x).
func (partyIDs IDSlice) Sort() { sort.Sort(partyIDs) }

// Valid returns true if the slice is non-empty, contains no empty ID and no duplicates.
// The slice does not need to be sorted.
func (partyIDs IDSlice) Valid() bool {
	if len(partyIDs) == 0 {
		return false
	}
	seen := make(map[ID]struct{}, len(partyIDs))
	for _, id := range partyIDs {
		if id == "" {
			return false
		}
		if _, ok := seen[id]; ok {
			return false
		}
		seen[id] = struct{}{}
	}
	return true
}

// Contains returns true if partyIDs contains id.
func (partyIDs IDSlice) Contains(id ID) bool {
	return partyIDs.GetIndex(id) >= 0
}

// GetIndex returns the position of id in partyIDs.
// If no index was found, return -1.
func (partyIDs IDSlice) GetIndex(id ID) int {
	for i, other := range partyIDs {
		if other == id {
			return i
		}
	}
	return -1
}

// Copy returns an identical copy of the receiver.
func (partyIDs IDSlice) Copy() IDSlice {
	a := make(IDSlice, len(partyIDs))
	copy(a, partyIDs)
	return a
}

// Remove returns a copy of partyIDs without id.
func (partyIDs IDSlice) Remove(id ID) IDSlice {
	out := make(IDSlice, 0, len(partyIDs))
	for _, other := range partyIDs {
		if other != id {
			out = append(out, other)
		}
	}
	return out
}

// Strings returns the IDs as plain strings, in the same order.
func (partyIDs IDSlice) Strings() []string {
	out := make([]string, len(partyIDs))
	for i, id := range partyIDs {
		out[i] = string(id)
	}
	return out
}

// WriteTo implements io.WriterTo and should be used within the hash.Hash function.
// Each ID is prefixed by its length so that the encoding is unambiguous.
func (partyIDs IDSlice) WriteTo(w io.Writer) (int64, error) {
	var total int64
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(len(partyIDs)))
	n, err := w.Write(buf)
	total += int64(n)
	if err != nil {
		return total, err
	}
	for _, id := range partyIDs {
		binary.BigEndian.PutUint32(buf, uint32(len(id)))
		n, err = w.Write(buf)
		total += int64(n)
		if err != nil {
			return total, err
		}
		n, err = w.Write([]byte(id))
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Domain implements hash.WriterToWithDomain, and separates this type within hash.Hash.
func (IDSlice) Domain() string {
	return "IDSlice"
}
