package fbas

import (
	"encoding/json"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/exp/slices"
)

// NodeIDSetVec is a collection of node sets. Collections returned by Minimize
// (and everything built on it) hold the minimality invariant: no member is a
// subset of another member.
type NodeIDSetVec []*bitset.BitSet

// NewNodeIDSet returns a set holding ids.
func NewNodeIDSet(ids ...NodeID) *bitset.BitSet {
	s := &bitset.BitSet{}
	for _, id := range ids {
		s.Set(uint(id))
	}
	return s
}

// Members returns the ids in s in ascending order.
func Members(s *bitset.BitSet) []NodeID {
	ids := make([]NodeID, 0, s.Count())
	for i, ok := s.NextSet(0); ok; i, ok = s.NextSet(i + 1) {
		ids = append(ids, NodeID(i))
	}
	return ids
}

// CompareSets orders sets by size and then lexicographically by member ids.
func CompareSets(a, b *bitset.BitSet) int {
	if c := compareInts(int(a.Count()), int(b.Count())); c != 0 {
		return c
	}
	i, aok := a.NextSet(0)
	j, bok := b.NextSet(0)
	for aok && bok {
		switch {
		case i < j:
			return -1
		case i > j:
			return 1
		}
		i, aok = a.NextSet(i + 1)
		j, bok = b.NextSet(j + 1)
	}
	return 0
}

func (v NodeIDSetVec) Clone() NodeIDSetVec {
	if v == nil {
		return nil
	}
	c := make(NodeIDSetVec, len(v))
	for i, s := range v {
		c[i] = s.Clone()
	}
	return c
}

/*
Minimize restores the minimality invariant: duplicate sets are collapsed and
every set that strictly contains another set is dropped. The result is sorted
with CompareSets and shares no sets with v.
*/
func (v NodeIDSetVec) Minimize() NodeIDSetVec {
	sorted := v.Clone()
	slices.SortFunc(sorted, func(a, b *bitset.BitSet) bool { return CompareSets(a, b) < 0 })

	minimal := make(NodeIDSetVec, 0, len(sorted))
	for _, candidate := range sorted {
		// kept sets are never larger than candidate, so containment here
		// means candidate is either a duplicate or a strict superset
		if slices.IndexFunc(minimal, func(kept *bitset.BitSet) bool { return candidate.IsSuperSet(kept) }) < 0 {
			minimal = append(minimal, candidate)
		}
	}
	return minimal
}

/*
WithoutNodes removes nodes from every set and re-establishes minimality. A set
that becomes empty is kept: it means nodes alone already satisfy the condition
the collection describes.
*/
func (v NodeIDSetVec) WithoutNodes(nodes *bitset.BitSet) NodeIDSetVec {
	reduced := make(NodeIDSetVec, len(v))
	for i, s := range v {
		reduced[i] = s.Difference(nodes)
	}
	return reduced.Minimize()
}

// MapNodes replaces every node id with mapping(id) and re-establishes minimality.
func (v NodeIDSetVec) MapNodes(mapping func(NodeID) NodeID) NodeIDSetVec {
	mapped := make(NodeIDSetVec, len(v))
	for i, s := range v {
		mapped[i] = MapSet(s, mapping)
	}
	return mapped.Minimize()
}

// MapSet returns the image of s under mapping.
func MapSet(s *bitset.BitSet, mapping func(NodeID) NodeID) *bitset.BitSet {
	m := &bitset.BitSet{}
	for i, ok := s.NextSet(0); ok; i, ok = s.NextSet(i + 1) {
		m.Set(uint(mapping(NodeID(i))))
	}
	return m
}

// IsMinimal reports whether no set of v is a subset of another set of v.
func (v NodeIDSetVec) IsMinimal() bool {
	for i := range v {
		for j := range v {
			if i != j && v[j].IsSuperSet(v[i]) {
				return false
			}
		}
	}
	return true
}

// ContainsEmptySet reports whether v has an empty member.
func (v NodeIDSetVec) ContainsEmptySet() bool {
	return slices.IndexFunc(v, func(s *bitset.BitSet) bool { return s.None() }) >= 0
}

// MinSize returns the size of the smallest set, 0 for an empty collection.
func (v NodeIDSetVec) MinSize() int {
	if len(v) == 0 {
		return 0
	}
	m := v[0].Count()
	for _, s := range v[1:] {
		if c := s.Count(); c < m {
			m = c
		}
	}
	return int(m)
}

// MaxSize returns the size of the largest set, 0 for an empty collection.
func (v NodeIDSetVec) MaxSize() int {
	var m uint
	for _, s := range v {
		if c := s.Count(); c > m {
			m = c
		}
	}
	return int(m)
}

// MeanSize returns the average set size, 0 for an empty collection.
func (v NodeIDSetVec) MeanSize() float64 {
	if len(v) == 0 {
		return 0
	}
	var total uint
	for _, s := range v {
		total += s.Count()
	}
	return float64(total) / float64(len(v))
}

// Union returns the set of all nodes appearing in v.
func (v NodeIDSetVec) Union() *bitset.BitSet {
	u := &bitset.BitSet{}
	for _, s := range v {
		u.InPlaceUnion(s)
	}
	return u
}

// Members returns the ids of every set, see Members.
func (v NodeIDSetVec) Members() [][]NodeID {
	m := make([][]NodeID, len(v))
	for i, s := range v {
		m[i] = Members(s)
	}
	return m
}

// PrettyString renders v as a JSON array of arrays of node names.
func (v NodeIDSetVec) PrettyString(name func(NodeID) string) string {
	names := make([][]string, len(v))
	for i, s := range v {
		names[i] = PrettyNames(s, name)
	}
	b, err := json.Marshal(names)
	if err != nil {
		// marshalling string slices does not fail
		panic(err)
	}
	return string(b)
}

// PrettyNames names the members of s in ascending id order.
func PrettyNames(s *bitset.BitSet, name func(NodeID) string) []string {
	names := make([]string, 0, s.Count())
	for _, id := range Members(s) {
		names = append(names, name(id))
	}
	return names
}
