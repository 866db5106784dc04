// Package malicious describes the deliberate deviations from the honest protocol that
// a daemon can be started with, in order to exercise fault detection of the other parties.
//
// It must never be enabled in production.
package malicious

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/taurusgroup/tssd/pkg/party"
)

// Kind is the name of a behaviour.
type Kind uint8

const (
	// Honest follows the protocol.
	Honest Kind = iota
	// R2BadShare sends the victims an inconsistent secret share in round 2.
	R2BadShare
	// R2BadEncryption sends the victims an undecodable share in round 2.
	R2BadEncryption
	// R3FalseAccusation accuses the victims of a fault they did not commit in round 3.
	R3FalseAccusation
)

var names = map[Kind]string{
	Honest:            "Honest",
	R2BadShare:        "R2BadShare",
	R2BadEncryption:   "R2BadEncryption",
	R3FalseAccusation: "R3FalseAccusation",
}

func (k Kind) String() string {
	if name, ok := names[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// KindOf returns the Kind named name, or Honest when no behaviour has that name.
func KindOf(name string) Kind {
	for k, n := range names {
		if n == name {
			return k
		}
	}
	return Honest
}

// Behaviour is the process-wide misbehaviour configuration.
// The shares in Faulty misbehave towards the shares in Victims.
type Behaviour struct {
	Kind    Kind
	Victims []party.ShareIndex
	Faulty  []party.ShareIndex
}

// Parse returns the Behaviour with the given name and share index sets.
// An unknown name yields an honest behaviour, never an error.
func Parse(name string, victims, faulty []uint32) Behaviour {
	kind := KindOf(name)
	if kind == Honest {
		return Behaviour{Kind: Honest}
	}
	return Behaviour{
		Kind:    kind,
		Victims: indexSet(victims),
		Faulty:  indexSet(faulty),
	}
}

// ParseIndexList parses a comma separated list of share indices such as "1,2".
// The empty string yields an empty list.
func ParseIndexList(s string) ([]uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	out := make([]uint32, 0, len(fields))
	for _, f := range fields {
		i, err := strconv.ParseUint(strings.TrimSpace(f), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("malicious: invalid share index %q: %w", f, err)
		}
		out = append(out, uint32(i))
	}
	return out, nil
}

// IsHonest returns true if the behaviour follows the protocol.
func (b Behaviour) IsHonest() bool { return b.Kind == Honest }

// IsFaulty returns true if share must misbehave.
func (b Behaviour) IsFaulty(share party.ShareIndex) bool {
	return b.Kind != Honest && contains(b.Faulty, share)
}

// IsVictim returns true if share is targeted by the misbehaviour.
func (b Behaviour) IsVictim(share party.ShareIndex) bool {
	return b.Kind != Honest && contains(b.Victims, share)
}

// Targets returns true if share must misbehave towards victim with the behaviour kind.
func (b Behaviour) Targets(kind Kind, share, victim party.ShareIndex) bool {
	return b.Kind == kind && b.IsFaulty(share) && b.IsVictim(victim)
}

func (b Behaviour) String() string {
	if b.Kind == Honest {
		return Honest.String()
	}
	return fmt.Sprintf("%s{victims: %v, faulty: %v}", b.Kind, b.Victims, b.Faulty)
}

func indexSet(indices []uint32) []party.ShareIndex {
	if len(indices) == 0 {
		return nil
	}
	seen := make(map[uint32]bool, len(indices))
	out := make([]party.ShareIndex, 0, len(indices))
	for _, i := range indices {
		if seen[i] {
			continue
		}
		seen[i] = true
		out = append(out, party.ShareIndex(i))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func contains(set []party.ShareIndex, share party.ShareIndex) bool {
	i := sort.Search(len(set), func(i int) bool { return set[i] >= share })
	return i < len(set) && set[i] == share
}
