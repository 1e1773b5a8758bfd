package analysis

import (
	"context"
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/exp/slices"
	"golang.org/x/sync/singleflight"

	"github.com/fbas-tools/analyzer/internal/fbas"
	"github.com/fbas-tools/analyzer/internal/logger"
)

const (
	DefaultNodeLimit = 40
	DefaultMemoSize  = 16
)

var ErrTooManyNodes = errors.New("FBAS exceeds the node limit of the reference engine")

var log = logger.CreateForPackage()

type (
	/*
	ReferenceEngine enumerates results exactly. The running time is exponential
	in the number of nodes taking part in quorums, networks larger than the
	node limit are rejected.

	Every result is derived from the minimal quorums, which are memoized per
	canonical FBAS key so that one Run computes them once.
	*/
	ReferenceEngine struct {
		nodeLimit int
		memo      *lru.Cache
		inflight  singleflight.Group
	}

	Options struct {
		nodeLimit int
		memoSize  int
	}

	Option func(*Options)
)

// WithNodeLimit sets the maximum number of nodes of an FBAS the engine accepts.
func WithNodeLimit(n int) Option {
	return func(o *Options) {
		o.nodeLimit = n
	}
}

// WithMemoSize sets how many FBASes the minimal quorums are remembered for.
func WithMemoSize(n int) Option {
	return func(o *Options) {
		o.memoSize = n
	}
}

func NewReferenceEngine(opts ...Option) (*ReferenceEngine, error) {
	o := &Options{nodeLimit: DefaultNodeLimit, memoSize: DefaultMemoSize}
	for _, opt := range opts {
		opt(o)
	}
	if o.nodeLimit <= 0 {
		return nil, fmt.Errorf("node limit must be positive, got %d", o.nodeLimit)
	}
	memo, err := lru.New(o.memoSize)
	if err != nil {
		return nil, fmt.Errorf("creating memo: %w", err)
	}
	return &ReferenceEngine{nodeLimit: o.nodeLimit, memo: memo}, nil
}

func (e *ReferenceEngine) MinimalQuorums(ctx context.Context, f *fbas.Fbas) (fbas.NodeIDSetVec, error) {
	quorums, err := e.minimalQuorums(ctx, f)
	if err != nil {
		return nil, err
	}
	return quorums.Clone(), nil
}

// MinimalBlockingSets returns the minimal sets intersecting every minimal
// quorum. Without quorums the empty set is the only minimal blocking set.
func (e *ReferenceEngine) MinimalBlockingSets(ctx context.Context, f *fbas.Fbas) (fbas.NodeIDSetVec, error) {
	quorums, err := e.minimalQuorums(ctx, f)
	if err != nil {
		return nil, err
	}
	h := &hittingSets{ctx: ctx, sets: quorums}
	if err := h.enumerate(&bitset.BitSet{}, &bitset.BitSet{}); err != nil {
		return nil, err
	}
	return h.found.Minimize(), nil
}

// MinimalSplittingSets returns the minimal intersections of two distinct
// minimal quorums: when such an intersection fails the two quorums can
// externalize conflicting values.
func (e *ReferenceEngine) MinimalSplittingSets(ctx context.Context, f *fbas.Fbas) (fbas.NodeIDSetVec, error) {
	quorums, err := e.minimalQuorums(ctx, f)
	if err != nil {
		return nil, err
	}
	var splitting fbas.NodeIDSetVec
	for i := range quorums {
		for j := i + 1; j < len(quorums); j++ {
			splitting = append(splitting, quorums[i].Intersection(quorums[j]))
		}
	}
	return splitting.Minimize(), nil
}

func (e *ReferenceEngine) TopTier(ctx context.Context, f *fbas.Fbas) (*bitset.BitSet, error) {
	quorums, err := e.minimalQuorums(ctx, f)
	if err != nil {
		return nil, err
	}
	return quorums.Union(), nil
}

// HasQuorumIntersection reports whether every two minimal quorums intersect,
// which holds trivially with less than two quorums.
func (e *ReferenceEngine) HasQuorumIntersection(ctx context.Context, f *fbas.Fbas) (bool, error) {
	quorums, err := e.minimalQuorums(ctx, f)
	if err != nil {
		return false, err
	}
	for i := range quorums {
		for j := i + 1; j < len(quorums); j++ {
			if quorums[i].IntersectionCardinality(quorums[j]) == 0 {
				return false, nil
			}
		}
	}
	return true, nil
}

/*
SymmetricClusters returns the distinct quorum sets that every node they contain
uses as its own quorum set and which those nodes satisfy. The members of such a
cluster trust each other uniformly.
*/
func (e *ReferenceEngine) SymmetricClusters(ctx context.Context, f *fbas.Fbas) ([]fbas.QuorumSet, error) {
	if err := e.checkSize(f); err != nil {
		return nil, err
	}
	clusters := []fbas.QuorumSet{}
	for id := 0; id < f.NumberOfNodes(); id++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		qs := f.QuorumSet(fbas.NodeID(id))
		if qs.Threshold == 0 || slices.IndexFunc(clusters, qs.Equal) >= 0 {
			continue
		}
		members := qs.ContainedNodes()
		if !qs.IsSatisfiedBy(members) {
			continue
		}
		symmetric := true
		for _, m := range fbas.Members(members) {
			if !f.QuorumSet(m).Equal(qs) {
				symmetric = false
				break
			}
		}
		if symmetric {
			clusters = append(clusters, qs.Clone())
		}
	}
	slices.SortFunc(clusters, func(a, b fbas.QuorumSet) bool { return fbas.CompareQuorumSets(a, b) < 0 })
	return clusters, nil
}

func (e *ReferenceEngine) checkSize(f *fbas.Fbas) error {
	if n := f.NumberOfNodes(); n > e.nodeLimit {
		return fmt.Errorf("%w: %d nodes, limit %d", ErrTooManyNodes, n, e.nodeLimit)
	}
	return nil
}

/*
minimalQuorums returns the memoized result, callers must not modify it.

Concurrent callers share one enumeration. It runs detached from every caller's
context so that a cancelled caller does not fail the others; each caller only
stops waiting when its own ctx is done. The enumeration then still completes
and its result is memoized.
*/
func (e *ReferenceEngine) minimalQuorums(ctx context.Context, f *fbas.Fbas) (fbas.NodeIDSetVec, error) {
	if err := e.checkSize(f); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := f.Key()
	if v, ok := e.memo.Get(key); ok {
		return v.(fbas.NodeIDSetVec), nil
	}
	ch := e.inflight.DoChan(string(key), func() (interface{}, error) {
		if v, ok := e.memo.Get(key); ok {
			return v, nil
		}
		q := &quorumSearch{f: f}
		q.enumerate(&bitset.BitSet{}, 0, f.AllNodes())
		quorums := q.found.Minimize()
		log.Debug("found %d minimal quorums among %d nodes", len(quorums), f.NumberOfNodes())
		e.memo.Add(key, quorums)
		return quorums, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		return res.Val.(fbas.NodeIDSetVec), nil
	}
}

type quorumSearch struct {
	f     *fbas.Fbas
	found fbas.NodeIDSetVec
}

/*
enumerate branches on including or excluding the first available node from
next on. A branch is abandoned as soon as selected is a quorum (supersets of a
quorum are not minimal) or when no quorum within available contains selected.
*/
func (q *quorumSearch) enumerate(selected *bitset.BitSet, next uint, available *bitset.BitSet) {
	if selected.Any() && isQuorum(q.f, selected) {
		if isMinimalQuorum(q.f, selected) {
			q.found = append(q.found, selected.Clone())
		}
		return
	}
	// nodes outside of the greatest quorum are in no quorum within available
	available = greatestQuorum(q.f, available)
	if available.None() || !available.IsSuperSet(selected) {
		return
	}
	next, ok := available.NextSet(next)
	if !ok {
		return
	}
	q.enumerate(selected.Clone().Set(next), next+1, available)
	q.enumerate(selected, next+1, available.Clone().Clear(next))
}

// isQuorum reports whether every member of nodes is satisfied by nodes.
func isQuorum(f *fbas.Fbas, nodes *bitset.BitSet) bool {
	for i, ok := nodes.NextSet(0); ok; i, ok = nodes.NextSet(i + 1) {
		if !f.QuorumSet(fbas.NodeID(i)).IsSatisfiedBy(nodes) {
			return false
		}
	}
	return true
}

// isMinimalQuorum reports whether no strict subset of the quorum is a quorum.
func isMinimalQuorum(f *fbas.Fbas, quorum *bitset.BitSet) bool {
	for i, ok := quorum.NextSet(0); ok; i, ok = quorum.NextSet(i + 1) {
		if greatestQuorum(f, quorum.Clone().Clear(i)).Any() {
			return false
		}
	}
	return true
}

// greatestQuorum returns the union of all quorums within nodes (possibly
// empty) by removing unsatisfied nodes until a fixpoint is reached.
func greatestQuorum(f *fbas.Fbas, nodes *bitset.BitSet) *bitset.BitSet {
	q := nodes.Clone()
	for changed := true; changed; {
		changed = false
		for i, ok := q.NextSet(0); ok; i, ok = q.NextSet(i + 1) {
			if !f.QuorumSet(fbas.NodeID(i)).IsSatisfiedBy(q) {
				q.Clear(i)
				changed = true
			}
		}
	}
	return q
}

type hittingSets struct {
	ctx   context.Context
	sets  fbas.NodeIDSetVec
	found fbas.NodeIDSetVec
}

/*
enumerate extends chosen with a member of the first set chosen does not hit
yet. Members tried in earlier branches are excluded from later ones, so every
minimal hitting set is produced while non minimal ones are removed afterwards.
*/
func (h *hittingSets) enumerate(chosen, excluded *bitset.BitSet) error {
	if err := h.ctx.Err(); err != nil {
		return err
	}
	idx := slices.IndexFunc(h.sets, func(s *bitset.BitSet) bool { return s.IntersectionCardinality(chosen) == 0 })
	if idx < 0 {
		h.found = append(h.found, chosen.Clone())
		return nil
	}
	candidates := h.sets[idx].Difference(excluded)
	excluded = excluded.Clone()
	for v, ok := candidates.NextSet(0); ok; v, ok = candidates.NextSet(v + 1) {
		if err := h.enumerate(chosen.Clone().Set(v), excluded); err != nil {
			return err
		}
		excluded.Set(v)
	}
	return nil
}
