package analysis

import (
	"context"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/sync/errgroup"

	"github.com/fbas-tools/analyzer/internal/fbas"
)

type (
	// Engine computes the raw analysis results of an FBAS. Implementations
	// must be pure functions of the FBAS so results can be memoized.
	Engine interface {
		MinimalQuorums(ctx context.Context, f *fbas.Fbas) (fbas.NodeIDSetVec, error)
		MinimalBlockingSets(ctx context.Context, f *fbas.Fbas) (fbas.NodeIDSetVec, error)
		MinimalSplittingSets(ctx context.Context, f *fbas.Fbas) (fbas.NodeIDSetVec, error)
		TopTier(ctx context.Context, f *fbas.Fbas) (*bitset.BitSet, error)
		HasQuorumIntersection(ctx context.Context, f *fbas.Fbas) (bool, error)
		SymmetricClusters(ctx context.Context, f *fbas.Fbas) ([]fbas.QuorumSet, error)
	}

	// Snapshot is the raw, node level analysis output of one FBAS.
	Snapshot struct {
		MinimalQuorums        fbas.NodeIDSetVec
		MinimalBlockingSets   fbas.NodeIDSetVec
		MinimalSplittingSets  fbas.NodeIDSetVec
		TopTier               *bitset.BitSet
		HasQuorumIntersection bool
		SymmetricClusters     []fbas.QuorumSet
	}
)

// Run collects all results of the engine for f into a snapshot. The engine
// methods are called concurrently; the first error cancels the rest.
func Run(ctx context.Context, e Engine, f *fbas.Fbas) (*Snapshot, error) {
	s := &Snapshot{}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		if s.MinimalQuorums, err = e.MinimalQuorums(ctx, f); err != nil {
			return fmt.Errorf("minimal quorums: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if s.MinimalBlockingSets, err = e.MinimalBlockingSets(ctx, f); err != nil {
			return fmt.Errorf("minimal blocking sets: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if s.MinimalSplittingSets, err = e.MinimalSplittingSets(ctx, f); err != nil {
			return fmt.Errorf("minimal splitting sets: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if s.TopTier, err = e.TopTier(ctx, f); err != nil {
			return fmt.Errorf("top tier: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if s.HasQuorumIntersection, err = e.HasQuorumIntersection(ctx, f); err != nil {
			return fmt.Errorf("quorum intersection: %w", err)
		}
		return nil
	})
	g.Go(func() (err error) {
		if s.SymmetricClusters, err = e.SymmetricClusters(ctx, f); err != nil {
			return fmt.Errorf("symmetric clusters: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return s, nil
}

// Clone returns a deep copy; snapshots handed out by the cache never share state.
func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		MinimalQuorums:        s.MinimalQuorums.Clone(),
		MinimalBlockingSets:   s.MinimalBlockingSets.Clone(),
		MinimalSplittingSets:  s.MinimalSplittingSets.Clone(),
		HasQuorumIntersection: s.HasQuorumIntersection,
	}
	if s.TopTier != nil {
		c.TopTier = s.TopTier.Clone()
	}
	if s.SymmetricClusters != nil {
		c.SymmetricClusters = make([]fbas.QuorumSet, len(s.SymmetricClusters))
		for i, q := range s.SymmetricClusters {
			c.SymmetricClusters[i] = q.Clone()
		}
	}
	return c
}
