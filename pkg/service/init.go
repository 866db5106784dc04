package service

import (
	"errors"
	"fmt"

	"github.com/taurusgroup/tssd/pkg/party"
)

// MaxTotalShares bounds the number of shares of a key.
const MaxTotalShares = 1000

// ErrInvalidInit is wrapped by every error caused by an invalid session init.
var ErrInvalidInit = errors.New("service: invalid init")

// keygenInit is a KeygenInit that passed validation. Parties are sorted by uid so that every
// participant has the same view of the session.
type keygenInit struct {
	keyUID      string
	partyUIDs   []party.ID
	shareCounts []uint32
	myIndex     int
	threshold   int
}

func (k *keygenInit) myUID() party.ID { return k.partyUIDs[k.myIndex] }

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInit, fmt.Sprintf(format, args...))
}

func sanitizeKeygenInit(req *KeygenInit) (*keygenInit, error) {
	if req == nil {
		return nil, invalid("missing keygen init")
	}
	if req.NewKeyUID == "" {
		return nil, invalid("empty key uid")
	}
	n := len(req.PartyUIDs)
	if n == 0 {
		return nil, invalid("no parties")
	}

	counts := req.PartyShareCounts
	if len(counts) == 0 {
		counts = make([]uint32, n)
		for i := range counts {
			counts[i] = 1
		}
	}
	if len(counts) != n {
		return nil, invalid("got %d share counts for %d parties", len(counts), n)
	}
	if int(req.MyPartyIndex) >= n {
		return nil, invalid("party index %d out of range [0, %d)", req.MyPartyIndex, n)
	}

	var total uint64
	seen := make(map[string]bool, n)
	for i, uid := range req.PartyUIDs {
		if uid == "" {
			return nil, invalid("empty party uid at index %d", i)
		}
		if seen[uid] {
			return nil, invalid("duplicate party uid %q", uid)
		}
		seen[uid] = true
		if counts[i] == 0 {
			return nil, invalid("party %q has no shares", uid)
		}
		total += uint64(counts[i])
	}
	if total > MaxTotalShares {
		return nil, invalid("%d shares exceed the maximum of %d", total, MaxTotalShares)
	}
	if uint64(req.Threshold) >= total {
		return nil, invalid("threshold %d must be smaller than the %d shares", req.Threshold, total)
	}

	ids := make([]party.ID, n)
	countOf := make(map[party.ID]uint32, n)
	for i, uid := range req.PartyUIDs {
		ids[i] = party.ID(uid)
		countOf[ids[i]] = counts[i]
	}
	sorted := party.NewIDSlice(ids)

	sanitized := &keygenInit{
		keyUID:      req.NewKeyUID,
		partyUIDs:   sorted,
		shareCounts: make([]uint32, n),
		myIndex:     sorted.GetIndex(ids[req.MyPartyIndex]),
		threshold:   int(req.Threshold),
	}
	for i, id := range sorted {
		sanitized.shareCounts[i] = countOf[id]
	}
	return sanitized, nil
}

// signInit is a SignInit that passed validation against the stored record of the key.
// Signers are ordered as in the keygen.
type signInit struct {
	sigUID      string
	keyUID      string
	signerUIDs  []party.ID
	shareCounts []uint32
	myUID       party.ID
	message     []byte
}

func sanitizeSignInit(req *SignInit, keygenUIDs []string, keygenCounts []uint32, myIndex uint32) (*signInit, error) {
	if req == nil {
		return nil, invalid("missing sign init")
	}
	if req.NewSigUID == "" {
		return nil, invalid("empty signature uid")
	}
	if len(req.MessageToSign) == 0 {
		return nil, invalid("empty message")
	}
	if int(myIndex) >= len(keygenUIDs) || len(keygenUIDs) != len(keygenCounts) {
		return nil, fmt.Errorf("service: corrupted record for key %q", req.KeyUID)
	}

	signers := make(map[string]bool, len(req.PartyUIDs))
	for _, uid := range req.PartyUIDs {
		if signers[uid] {
			return nil, invalid("duplicate signer %q", uid)
		}
		signers[uid] = true
	}

	sanitized := &signInit{
		sigUID:  req.NewSigUID,
		keyUID:  req.KeyUID,
		myUID:   party.ID(keygenUIDs[myIndex]),
		message: req.MessageToSign,
	}
	for i, uid := range keygenUIDs {
		if !signers[uid] {
			continue
		}
		delete(signers, uid)
		sanitized.signerUIDs = append(sanitized.signerUIDs, party.ID(uid))
		sanitized.shareCounts = append(sanitized.shareCounts, keygenCounts[i])
	}
	for uid := range signers {
		return nil, invalid("signer %q did not participate in keygen", uid)
	}
	if !party.IDSlice(sanitized.signerUIDs).Contains(sanitized.myUID) {
		return nil, invalid("party %q is not among the signers", sanitized.myUID)
	}
	return sanitized, nil
}
