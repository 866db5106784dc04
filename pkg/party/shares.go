package party

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
)

var (
	ErrShareOutOfRange = errors.New("party: share index out of range")
	ErrUnknownParty    = errors.New("party: unknown party ID")
)

// ShareIndex is the position of a share among all shares of all parties.
// Share indices are dense and start at 0: the shares of the first party come first,
// then those of the second party, and so on.
type ShareIndex uint32

// String returns a base 10 representation of the index.
func (i ShareIndex) String() string {
	return strconv.FormatUint(uint64(i), 10)
}

// WriteTo implements io.WriterTo interface.
func (i ShareIndex) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write([]byte{byte(i >> 24), byte(i >> 16), byte(i >> 8), byte(i)})
	return int64(n), err
}

// Domain implements hash.WriterToWithDomain.
func (ShareIndex) Domain() string { return "Share Index" }

// ShareMap translates between external party IDs and the internal share indices
// used by the cryptographic engine.
//
// A ShareMap is built once per session and never modified afterwards.
type ShareMap struct {
	ids    IDSlice
	counts []uint32
	// offsets[i] is the first share index of party i, offsets[len(ids)] is the total.
	offsets []ShareIndex
	byID    map[ID]int
}

// NewShareMap creates the translation between ids and their share counts.
// The order of ids is preserved, and must be identical for every participant of the session.
func NewShareMap(ids []ID, counts []uint32) (*ShareMap, error) {
	partyIDs := IDSlice(ids).Copy()
	if !partyIDs.Valid() {
		return nil, errors.New("party: party IDs must be non-empty and unique")
	}
	if len(counts) != len(partyIDs) {
		return nil, fmt.Errorf("party: got %d share counts for %d parties", len(counts), len(partyIDs))
	}

	offsets := make([]ShareIndex, len(partyIDs)+1)
	byID := make(map[ID]int, len(partyIDs))
	var total uint64
	for i, c := range counts {
		if c == 0 {
			return nil, fmt.Errorf("party: party %s has no shares", partyIDs[i])
		}
		offsets[i] = ShareIndex(total)
		total += uint64(c)
		if total > uint64(^ShareIndex(0)) {
			return nil, errors.New("party: too many shares")
		}
		byID[partyIDs[i]] = i
	}
	offsets[len(partyIDs)] = ShareIndex(total)

	countsCopy := make([]uint32, len(counts))
	copy(countsCopy, counts)

	return &ShareMap{
		ids:     partyIDs,
		counts:  countsCopy,
		offsets: offsets,
		byID:    byID,
	}, nil
}

// Total returns the number of shares across all parties.
func (m *ShareMap) Total() int { return int(m.offsets[len(m.ids)]) }

// N returns the number of parties.
func (m *ShareMap) N() int { return len(m.ids) }

// IDs returns a copy of the ordered party IDs.
func (m *ShareMap) IDs() IDSlice { return m.ids.Copy() }

// Counts returns a copy of the share count of each party.
func (m *ShareMap) Counts() []uint32 {
	out := make([]uint32, len(m.counts))
	copy(out, m.counts)
	return out
}

// IndexOf returns the party index of id.
func (m *ShareMap) IndexOf(id ID) (int, bool) {
	i, ok := m.byID[id]
	return i, ok
}

// PartyIndexOf returns the index of the party holding share.
func (m *ShareMap) PartyIndexOf(share ShareIndex) (int, error) {
	if int(share) >= m.Total() {
		return 0, fmt.Errorf("%w: %d not in [0, %d)", ErrShareOutOfRange, share, m.Total())
	}
	// first party whose range ends after share
	i := sort.Search(len(m.ids), func(i int) bool { return m.offsets[i+1] > share })
	return i, nil
}

// PartyOf returns the ID of the party holding share.
func (m *ShareMap) PartyOf(share ShareIndex) (ID, error) {
	i, err := m.PartyIndexOf(share)
	if err != nil {
		return "", err
	}
	return m.ids[i], nil
}

// SharesOf returns the share indices held by id, in increasing order.
func (m *ShareMap) SharesOf(id ID) ([]ShareIndex, error) {
	i, ok := m.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownParty, id)
	}
	return m.sharesOfIndex(i), nil
}

// SharesOfIndex returns the share indices held by the party at position i.
func (m *ShareMap) SharesOfIndex(i int) ([]ShareIndex, error) {
	if i < 0 || i >= len(m.ids) {
		return nil, fmt.Errorf("%w: party index %d", ErrUnknownParty, i)
	}
	return m.sharesOfIndex(i), nil
}

func (m *ShareMap) sharesOfIndex(i int) []ShareIndex {
	shares := make([]ShareIndex, 0, m.counts[i])
	for s := m.offsets[i]; s < m.offsets[i+1]; s++ {
		shares = append(shares, s)
	}
	return shares
}

// Owns returns true if share belongs to the party id.
func (m *ShareMap) Owns(id ID, share ShareIndex) bool {
	i, ok := m.byID[id]
	if !ok {
		return false
	}
	return share >= m.offsets[i] && share < m.offsets[i+1]
}
