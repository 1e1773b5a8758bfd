package grouping

import (
	"github.com/bits-and-blooms/bitset"
	"golang.org/x/exp/slices"

	"github.com/fbas-tools/analyzer/internal/fbas"
)

/*
MergeSets collapses every node of every set into its group and restores the
minimality invariant. Distinct node level sets can collapse into the same
group level set, and a minimal node level set can become a strict superset of
another one once collapsed; both are removed.
*/
func MergeSets(sets fbas.NodeIDSetVec, g *Grouping) fbas.NodeIDSetVec {
	return sets.MapNodes(g.MergedID)
}

// MergeSet collapses the nodes of a single set into their groups.
func MergeSet(set *bitset.BitSet, g *Grouping) *bitset.BitSet {
	return fbas.MapSet(set, g.MergedID)
}

/*
MergeQuorumSets substitutes group representatives for the validators of the
quorum sets. A group is counted once per quorum set, thresholds are capped at
the number of remaining members, inner quorum sets that collapsed into a
single 1-of-1 member are lifted into their parent and quorum sets that became
identical are reported once.
*/
func MergeQuorumSets(qs []fbas.QuorumSet, g *Grouping) []fbas.QuorumSet {
	merged := make([]fbas.QuorumSet, 0, len(qs))
	for _, q := range qs {
		m := mergeQuorumSet(q, g)
		if slices.IndexFunc(merged, m.Equal) < 0 {
			merged = append(merged, m)
		}
	}
	return merged
}

func mergeQuorumSet(q fbas.QuorumSet, g *Grouping) fbas.QuorumSet {
	m := fbas.QuorumSet{Threshold: q.Threshold}
	for _, v := range q.Validators {
		m.Validators = append(m.Validators, g.MergedID(v))
	}
	for _, iq := range q.InnerQuorumSets {
		mi := mergeQuorumSet(iq, g)
		if mi.Threshold == 1 && len(mi.Validators) == 1 && len(mi.InnerQuorumSets) == 0 {
			m.Validators = append(m.Validators, mi.Validators[0])
			continue
		}
		m.InnerQuorumSets = append(m.InnerQuorumSets, mi)
	}
	m = m.Standardized()
	m.Validators = slices.Compact(m.Validators)
	if members := uint(len(m.Validators) + len(m.InnerQuorumSets)); m.Threshold > members {
		m.Threshold = members
	}
	return m
}
