package fbas

import (
	"github.com/bits-and-blooms/bitset"
	"golang.org/x/exp/slices"
)

// QuorumSet is a threshold over validators and nested quorum sets.
type QuorumSet struct {
	Threshold       uint
	Validators      []NodeID
	InnerQuorumSets []QuorumSet
}

// UnsatisfiableQuorumSet returns a quorum set no set of nodes satisfies.
func UnsatisfiableQuorumSet() QuorumSet {
	return QuorumSet{}
}

/*
IsSatisfiedBy reports whether nodes contain a slice of q. A zero threshold
never counts as satisfied, otherwise every node with an empty quorum set would
form a quorum on its own.
*/
func (q QuorumSet) IsSatisfiedBy(nodes *bitset.BitSet) bool {
	if q.Threshold == 0 {
		return false
	}
	var n uint
	for _, v := range q.Validators {
		if nodes.Test(uint(v)) {
			if n++; n >= q.Threshold {
				return true
			}
		}
	}
	for _, iq := range q.InnerQuorumSets {
		if iq.IsSatisfiedBy(nodes) {
			if n++; n >= q.Threshold {
				return true
			}
		}
	}
	return false
}

// ContainedNodes returns all validators referenced by q, nested ones included.
func (q QuorumSet) ContainedNodes() *bitset.BitSet {
	nodes := &bitset.BitSet{}
	q.addContainedNodes(nodes)
	return nodes
}

func (q QuorumSet) addContainedNodes(nodes *bitset.BitSet) {
	for _, v := range q.Validators {
		nodes.Set(uint(v))
	}
	for _, iq := range q.InnerQuorumSets {
		iq.addContainedNodes(nodes)
	}
}

// Standardized returns a copy with sorted validators and recursively sorted inner quorum sets.
func (q QuorumSet) Standardized() QuorumSet {
	s := QuorumSet{Threshold: q.Threshold}
	if len(q.Validators) > 0 {
		s.Validators = slices.Clone(q.Validators)
		slices.Sort(s.Validators)
	}
	for _, iq := range q.InnerQuorumSets {
		s.InnerQuorumSets = append(s.InnerQuorumSets, iq.Standardized())
	}
	slices.SortFunc(s.InnerQuorumSets, func(a, b QuorumSet) bool { return CompareQuorumSets(a, b) < 0 })
	return s
}

func (q QuorumSet) Equal(other QuorumSet) bool {
	return CompareQuorumSets(q, other) == 0
}

// Clone returns a deep copy of q.
func (q QuorumSet) Clone() QuorumSet {
	c := QuorumSet{Threshold: q.Threshold}
	if q.Validators != nil {
		c.Validators = slices.Clone(q.Validators)
	}
	for _, iq := range q.InnerQuorumSets {
		c.InnerQuorumSets = append(c.InnerQuorumSets, iq.Clone())
	}
	return c
}

// CompareQuorumSets orders quorum sets by threshold, validators and then inner quorum sets.
func CompareQuorumSets(a, b QuorumSet) int {
	switch {
	case a.Threshold < b.Threshold:
		return -1
	case a.Threshold > b.Threshold:
		return 1
	}
	if c := compareNodeIDs(a.Validators, b.Validators); c != 0 {
		return c
	}
	for i := 0; i < len(a.InnerQuorumSets) && i < len(b.InnerQuorumSets); i++ {
		if c := CompareQuorumSets(a.InnerQuorumSets[i], b.InnerQuorumSets[i]); c != 0 {
			return c
		}
	}
	return compareInts(len(a.InnerQuorumSets), len(b.InnerQuorumSets))
}

func compareNodeIDs(a, b []NodeID) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		switch {
		case a[i] < b[i]:
			return -1
		case a[i] > b[i]:
			return 1
		}
	}
	return compareInts(len(a), len(b))
}

func compareInts(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
