package grouping

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bits-and-blooms/bitset"

	"github.com/fbas-tools/analyzer/internal/fbas"
)

// MergeBy selects the source nodes are grouped by before results are reported.
type MergeBy int

const (
	DoNotMerge MergeBy = iota
	Orgs
	ISPs
	Countries
)

var ErrInvalidDescription = errors.New("invalid grouping description")

type (
	// Grouping maps nodes to groups of correlated nodes. Every group is
	// represented by its member with the smallest node id so merged results
	// stay in the id space of the FBAS. Nodes without a group are their own
	// singleton group.
	Grouping struct {
		groups  []Group
		groupOf map[fbas.NodeID]int
	}

	Group struct {
		Name    string
		Members *bitset.BitSet
	}
)

func (m MergeBy) String() string {
	switch m {
	case DoNotMerge:
		return "none"
	case Orgs:
		return "orgs"
	case ISPs:
		return "isps"
	case Countries:
		return "countries"
	default:
		return fmt.Sprintf("MergeBy(%d)", int(m))
	}
}

// ParseMergeBy is the inverse of MergeBy.String, case insensitive. Empty string means DoNotMerge.
func ParseMergeBy(s string) (MergeBy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return DoNotMerge, nil
	case "orgs", "organizations":
		return Orgs, nil
	case "isps":
		return ISPs, nil
	case "countries":
		return Countries, nil
	default:
		return DoNotMerge, fmt.Errorf("unknown merge mode %q, expected one of: none, orgs, isps, countries", s)
	}
}

/*
Resolve builds the grouping requested by mergeBy. Organizations are read from
orgsDescription, ISPs and countries from nodesDescription (the node list the
FBAS was parsed from). For DoNotMerge the result is nil, which is distinct from
an empty grouping.
*/
func Resolve(mergeBy MergeBy, orgsDescription, nodesDescription []byte, f *fbas.Fbas) (*Grouping, error) {
	switch mergeBy {
	case DoNotMerge:
		return nil, nil
	case Orgs:
		return OrganizationsFrom(orgsDescription, f)
	case ISPs:
		return ISPsFrom(nodesDescription, f)
	case Countries:
		return CountriesFrom(nodesDescription, f)
	default:
		return nil, fmt.Errorf("unsupported merge mode %v", mergeBy)
	}
}

// builder collects named groups; the first group a node is assigned to wins.
type builder struct {
	f       *fbas.Fbas
	groups  []Group
	byKey   map[string]int
	groupOf map[fbas.NodeID]int
}

func newBuilder(f *fbas.Fbas) *builder {
	return &builder{f: f, byKey: make(map[string]int), groupOf: make(map[fbas.NodeID]int)}
}

func (b *builder) add(groupKey, groupName, publicKey string) {
	id, ok := b.f.NodeID(publicKey)
	if !ok || groupKey == "" {
		return
	}
	if _, assigned := b.groupOf[id]; assigned {
		return
	}
	idx, ok := b.byKey[groupKey]
	if !ok {
		idx = len(b.groups)
		b.byKey[groupKey] = idx
		b.groups = append(b.groups, Group{Name: groupName, Members: &bitset.BitSet{}})
	}
	b.groups[idx].Members.Set(uint(id))
	b.groupOf[id] = idx
}

func (b *builder) build() *Grouping {
	return &Grouping{groups: b.groups, groupOf: b.groupOf}
}

// Groups returns the groups in the order they were first seen.
func (g *Grouping) Groups() []Group {
	return g.groups
}

// Group returns the group of the node, false when the node is not grouped.
func (g *Grouping) Group(id fbas.NodeID) (Group, bool) {
	if g == nil {
		return Group{}, false
	}
	idx, ok := g.groupOf[id]
	if !ok {
		return Group{}, false
	}
	return g.groups[idx], true
}

// MergedID returns the representative of the group of id, or id itself for ungrouped nodes.
func (g *Grouping) MergedID(id fbas.NodeID) fbas.NodeID {
	if g == nil {
		return id
	}
	idx, ok := g.groupOf[id]
	if !ok {
		return id
	}
	rep, _ := g.groups[idx].Members.NextSet(0)
	return fbas.NodeID(rep)
}

/*
Namer returns a function naming node ids for pretty printing. With a nil
grouping nodes are named by public key; otherwise group representatives are
named by group name.
*/
func Namer(f *fbas.Fbas, g *Grouping) func(fbas.NodeID) string {
	return func(id fbas.NodeID) string {
		if grp, ok := g.Group(id); ok && g.MergedID(id) == id {
			return grp.Name
		}
		return f.PublicKey(id)
	}
}
