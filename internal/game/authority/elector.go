// Package authority tracks the single simulation host of each occupied room
// and elects a successor when the host leaves.
//
// None of the types here are safe for concurrent use. The session registry
// owns one Elector and calls it only while holding its own lock, which is
// what makes every host check observe the current host.
package authority

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownPolicy is returned by PolicyByName for an unrecognised name.
var ErrUnknownPolicy = errors.New("unknown election policy")

// Candidate is a remaining occupant eligible to become host.
type Candidate struct {
	// PlayerID identifies the occupant.
	PlayerID string
	// Entered orders occupants by when they entered the room; lower is earlier.
	Entered uint64
}

// Policy chooses a new host among the remaining occupants of a room.
type Policy interface {
	// Name is the configuration name of the policy.
	Name() string
	// Elect returns the chosen player, or false when candidates is empty.
	Elect(candidates []Candidate) (string, bool)
}

// Arbitrary takes the first candidate in the order supplied. The registry
// supplies occupants in map iteration order, so the choice is deliberately
// unspecified and may differ between runs.
type Arbitrary struct{}

// Name returns "arbitrary".
func (Arbitrary) Name() string { return "arbitrary" }

// Elect returns the first candidate.
func (Arbitrary) Elect(candidates []Candidate) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	return candidates[0].PlayerID, true
}

// Seniority picks the occupant that has been in the room longest, breaking
// ties by player id so the outcome is deterministic.
type Seniority struct{}

// Name returns "seniority".
func (Seniority) Name() string { return "seniority" }

// Elect returns the candidate with the lowest Entered value.
func (Seniority) Elect(candidates []Candidate) (string, bool) {
	if len(candidates) == 0 {
		return "", false
	}
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.Entered < best.Entered || (c.Entered == best.Entered && c.PlayerID < best.PlayerID) {
			best = c
		}
	}
	return best.PlayerID, true
}

// PolicyByName resolves a configured policy name.
//
// Postcondition: Returns a non-nil Policy, or an error wrapping ErrUnknownPolicy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "seniority":
		return Seniority{}, nil
	case "arbitrary":
		return Arbitrary{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
	}
}

// Elector holds the host table: at most one host per room. A room with no
// entry is unoccupied as far as authority is concerned.
type Elector struct {
	policy Policy
	hosts  map[string]string // roomID → host playerID
}

// NewElector creates an Elector with an empty host table.
//
// Precondition: policy must be non-nil.
func NewElector(policy Policy) *Elector {
	return &Elector{
		policy: policy,
		hosts:  make(map[string]string),
	}
}

// Policy returns the election policy in use.
func (e *Elector) Policy() Policy {
	return e.policy
}

// Host returns the current host of roomID.
func (e *Elector) Host(roomID string) (string, bool) {
	id, ok := e.hosts[roomID]
	return id, ok
}

// IsHost reports whether playerID is the current host of roomID.
func (e *Elector) IsHost(roomID, playerID string) bool {
	id, ok := e.hosts[roomID]
	return ok && id == playerID
}

// Claim makes playerID the host of roomID if the room has no host.
//
// Postcondition: Returns true if playerID was elected by this call.
func (e *Elector) Claim(roomID, playerID string) bool {
	if _, ok := e.hosts[roomID]; ok {
		return false
	}
	e.hosts[roomID] = playerID
	return true
}

// Vacate handles departingID leaving roomID. If departingID was the host, a
// successor is elected from candidates, which must not include departingID.
// With no candidates the room becomes unoccupied.
//
// Postcondition: Returns the new host and true if a successor was elected.
// The host table never names departingID for roomID afterwards.
func (e *Elector) Vacate(roomID, departingID string, candidates []Candidate) (string, bool) {
	if !e.IsHost(roomID, departingID) {
		return "", false
	}
	next, ok := e.policy.Elect(candidates)
	if !ok || next == departingID {
		delete(e.hosts, roomID)
		return "", false
	}
	e.hosts[roomID] = next
	return next, true
}

// Hosts returns a copy of the host table.
func (e *Elector) Hosts() map[string]string {
	out := make(map[string]string, len(e.hosts))
	for room, id := range e.hosts {
		out[room] = id
	}
	return out
}

// Rooms returns the rooms that currently have a host, sorted.
func (e *Elector) Rooms() []string {
	rooms := make([]string, 0, len(e.hosts))
	for room := range e.hosts {
		rooms = append(rooms, room)
	}
	sort.Strings(rooms)
	return rooms
}
