package cache

import (
	"github.com/fbas-tools/analyzer/internal/analysis"
	"github.com/fbas-tools/analyzer/internal/fbas"
)

// record is the persisted form of a snapshot. It carries the full canonical
// key to detect digest collisions. The key is CBOR itself, not valid UTF-8,
// so it is stored as a byte string.
type record struct {
	_                     struct{} `cbor:",toarray"`
	Key                   []byte
	MinimalQuorums        [][]fbas.NodeID
	MinimalBlockingSets   [][]fbas.NodeID
	MinimalSplittingSets  [][]fbas.NodeID
	TopTier               []fbas.NodeID
	HasQuorumIntersection bool
	SymmetricClusters     []fbas.QuorumSet
}

func newRecord(key fbas.Key, s *analysis.Snapshot) *record {
	r := &record{
		Key:                   []byte(key),
		MinimalQuorums:        s.MinimalQuorums.Members(),
		MinimalBlockingSets:   s.MinimalBlockingSets.Members(),
		MinimalSplittingSets:  s.MinimalSplittingSets.Members(),
		HasQuorumIntersection: s.HasQuorumIntersection,
		SymmetricClusters:     s.SymmetricClusters,
	}
	if s.TopTier != nil {
		r.TopTier = fbas.Members(s.TopTier)
	}
	return r
}

func (r *record) snapshot() *analysis.Snapshot {
	return &analysis.Snapshot{
		MinimalQuorums:        toSetVec(r.MinimalQuorums),
		MinimalBlockingSets:   toSetVec(r.MinimalBlockingSets),
		MinimalSplittingSets:  toSetVec(r.MinimalSplittingSets),
		TopTier:               fbas.NewNodeIDSet(r.TopTier...),
		HasQuorumIntersection: r.HasQuorumIntersection,
		SymmetricClusters:     r.SymmetricClusters,
	}
}

func toSetVec(members [][]fbas.NodeID) fbas.NodeIDSetVec {
	v := make(fbas.NodeIDSetVec, len(members))
	for i, ids := range members {
		v[i] = fbas.NewNodeIDSet(ids...)
	}
	return v
}
