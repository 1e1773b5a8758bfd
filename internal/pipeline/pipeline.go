package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/metrics"
	"golang.org/x/sync/singleflight"

	"github.com/fbas-tools/analyzer/internal/analysis"
	"github.com/fbas-tools/analyzer/internal/cache"
	"github.com/fbas-tools/analyzer/internal/fbas"
	"github.com/fbas-tools/analyzer/internal/grouping"
	"github.com/fbas-tools/analyzer/internal/logger"
	abmetrics "github.com/fbas-tools/analyzer/internal/metrics"
)

var log = logger.CreateForPackage()

type (
	Analyzer struct {
		engine analysis.Engine
		cache  *cache.ResultCache
		// nil unless concurrent misses of the same FBAS are deduplicated
		inflight *singleflight.Group

		engineRuns     metrics.Counter
		engineFailures metrics.Counter
		engineTimer    metrics.Timer
	}

	Option func(*Analyzer)

	Request struct {
		Fbas    *fbas.Fbas
		MergeBy grouping.MergeBy
		// stellarbeat organizations JSON, used with grouping.Orgs
		Organizations []byte
		// the node list Fbas was parsed from, used with grouping.ISPs and grouping.Countries
		NodesDescription []byte
		// public keys of nodes known to be inactive, unknown keys are ignored
		InactiveNodes []string
	}

	// Output is the presentation level result of an analysis. Sets are
	// rendered as JSON arrays of public keys, or group names when merged.
	Output struct {
		MinimalQuorums           string   `json:"minimal_quorums"`
		MinimalQuorumsSize       int      `json:"minimal_quorums_size"`
		HasIntersection          bool     `json:"has_intersection"`
		MinimalBlockingSets      string   `json:"minimal_blocking_sets"`
		MinimalBlockingSetsSize  int      `json:"minimal_blocking_sets_size"`
		SmallestBlockingSetSize  int      `json:"smallest_blocking_set_size"`
		LargestBlockingSetSize   int      `json:"largest_blocking_set_size"`
		MeanBlockingSetSize      float64  `json:"mean_blocking_set_size"`
		AlreadyBlocked           bool     `json:"already_blocked"`
		MinimalSplittingSets     string   `json:"minimal_splitting_sets"`
		MinimalSplittingSetsSize int      `json:"minimal_splitting_sets_size"`
		SmallestSplittingSetSize int      `json:"smallest_splitting_set_size"`
		LargestSplittingSetSize  int      `json:"largest_splitting_set_size"`
		MeanSplittingSetSize     float64  `json:"mean_splitting_set_size"`
		TopTier                  []string `json:"top_tier"`
		TopTierSize              int      `json:"top_tier_size"`
		SymmetricTopTierExists   bool     `json:"symmetric_top_tier_exists"`
		SymmetricTopTier         string   `json:"symmetric_top_tier"`
		CacheHit                 bool     `json:"cache_hit"`
	}
)

// WithInflightDedup makes concurrent requests for the same uncached FBAS share
// one engine run. Requests served by another request's run report a cache hit.
func WithInflightDedup() Option {
	return func(a *Analyzer) {
		a.inflight = &singleflight.Group{}
	}
}

func New(engine analysis.Engine, c *cache.ResultCache, opts ...Option) (*Analyzer, error) {
	if engine == nil {
		return nil, errors.New("analysis engine is nil")
	}
	if c == nil {
		return nil, errors.New("result cache is nil")
	}
	a := &Analyzer{
		engine:         engine,
		cache:          c,
		engineRuns:     abmetrics.GetOrRegisterCounter("fbas_engine_runs"),
		engineFailures: abmetrics.GetOrRegisterCounter("fbas_engine_failures"),
		engineTimer:    abmetrics.GetOrRegisterTimer("fbas_engine_duration"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

func (a *Analyzer) Cache() *cache.ResultCache {
	return a.cache
}

/*
Analyze produces the output for one request: the snapshot of the FBAS is taken
from the cache or computed, inactive nodes are removed from the blocking sets,
every result is merged into groups when grouping is requested and finally the
derived values are computed.
*/
func (a *Analyzer) Analyze(ctx context.Context, req *Request) (*Output, error) {
	if req == nil || req.Fbas == nil {
		return nil, fmt.Errorf("%w: request has no FBAS", fbas.ErrInvalidFbas)
	}
	f := req.Fbas
	g, err := grouping.Resolve(req.MergeBy, req.Organizations, req.NodesDescription, f)
	if err != nil {
		return nil, fmt.Errorf("resolving grouping: %w", err)
	}

	snapshot, hit, err := a.snapshot(ctx, f)
	if err != nil {
		return nil, err
	}

	inactive, unknown := f.NodeIDs(req.InactiveNodes)
	if len(unknown) > 0 {
		log.Debug("ignoring %d unknown inactive nodes", len(unknown))
	}
	blocking := snapshot.MinimalBlockingSets.WithoutNodes(inactive)
	quorums := snapshot.MinimalQuorums
	splitting := snapshot.MinimalSplittingSets
	topTier := snapshot.TopTier
	clusters := snapshot.SymmetricClusters
	if g != nil {
		blocking = grouping.MergeSets(blocking, g)
		quorums = grouping.MergeSets(quorums, g)
		splitting = grouping.MergeSets(splitting, g)
		topTier = grouping.MergeSet(topTier, g)
		clusters = grouping.MergeQuorumSets(clusters, g)
	} else {
		// engine results are minimal already, this only fixes the order
		quorums = quorums.Minimize()
		splitting = splitting.Minimize()
	}

	name := grouping.Namer(f, g)
	out := &Output{
		MinimalQuorums:           quorums.PrettyString(name),
		MinimalQuorumsSize:       len(quorums),
		HasIntersection:          snapshot.HasQuorumIntersection,
		MinimalBlockingSets:      blocking.PrettyString(name),
		MinimalBlockingSetsSize:  len(blocking),
		SmallestBlockingSetSize:  blocking.MinSize(),
		LargestBlockingSetSize:   blocking.MaxSize(),
		MeanBlockingSetSize:      blocking.MeanSize(),
		AlreadyBlocked:           blocking.ContainsEmptySet(),
		MinimalSplittingSets:     splitting.PrettyString(name),
		MinimalSplittingSetsSize: len(splitting),
		SmallestSplittingSetSize: splitting.MinSize(),
		LargestSplittingSetSize:  splitting.MaxSize(),
		MeanSplittingSetSize:     splitting.MeanSize(),
		TopTier:                  fbas.PrettyNames(topTier, name),
		CacheHit:                 hit,
	}
	out.TopTierSize = len(out.TopTier)
	if snapshot.HasQuorumIntersection && len(clusters) == 1 {
		out.SymmetricTopTierExists = true
		out.SymmetricTopTier = fbas.PrettyQuorumSets(clusters, name)
	}
	return out, nil
}

// snapshot returns the snapshot of f and whether it was served without running the engine.
func (a *Analyzer) snapshot(ctx context.Context, f *fbas.Fbas) (*analysis.Snapshot, bool, error) {
	if s, ok := a.cache.Lookup(f); ok {
		log.Debug("cache hit")
		return s, true, nil
	}
	if a.inflight == nil {
		s, err := a.run(ctx, f)
		return s, false, err
	}
	// the shared run must not fail because the caller that started it went away
	leader := false
	ch := a.inflight.DoChan(string(f.Key()), func() (interface{}, error) {
		leader = true
		return a.run(context.Background(), f)
	})
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, false, res.Err
		}
		s := res.Val.(*analysis.Snapshot)
		if !leader {
			// the leader holds the same snapshot
			s = s.Clone()
		}
		return s, !leader, nil
	}
}

func (a *Analyzer) run(ctx context.Context, f *fbas.Fbas) (*analysis.Snapshot, error) {
	log.Debug("cache miss, analysing FBAS of %d nodes", f.NumberOfNodes())
	a.engineRuns.Inc(1)
	start := time.Now()
	s, err := analysis.Run(ctx, a.engine, f)
	a.engineTimer.UpdateSince(start)
	if err != nil {
		a.engineFailures.Inc(1)
		log.Warning("analysis failed: %v", err)
		return nil, fmt.Errorf("analysing FBAS: %w", err)
	}
	a.cache.Insert(f, s)
	return s, nil
}
