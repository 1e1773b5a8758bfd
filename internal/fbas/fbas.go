package fbas

import (
	"errors"
	"fmt"

	"github.com/bits-and-blooms/bitset"
	"golang.org/x/exp/slices"
)

var ErrInvalidFbas = errors.New("invalid FBAS description")

type (
	// NodeID is the index of a node in the standard form of an FBAS.
	NodeID uint

	Node struct {
		PublicKey string
		QuorumSet QuorumSet
	}

	// Fbas is an immutable FBAS in standard form: nodes are ordered by public
	// key and every quorum set is standardized. Two descriptions of the same
	// network produce equal Fbas values regardless of input ordering.
	Fbas struct {
		nodes []Node
		index map[string]NodeID
		key   Key
	}
)

/*
New builds an FBAS in standard form from raw node descriptions.

Validators referenced by a quorum set but missing from the node list are added
as nodes with an unsatisfiable quorum set. When a public key is described more
than once the first description carrying a quorum set wins. Nodes without a
quorum set get an unsatisfiable one.
*/
func New(raw []RawNode) (*Fbas, error) {
	described := make(map[string]*RawQuorumSet, len(raw))
	var keys []string
	addKey := func(pk string) {
		if _, ok := described[pk]; !ok {
			described[pk] = nil
			keys = append(keys, pk)
		}
	}
	for i := range raw {
		pk := raw[i].PublicKey
		if pk == "" {
			return nil, fmt.Errorf("%w: node %d has no public key", ErrInvalidFbas, i)
		}
		if qs, ok := described[pk]; ok && qs != nil {
			continue
		}
		addKey(pk)
		if raw[i].QuorumSet != nil {
			described[pk] = raw[i].QuorumSet
		}
	}
	for i := range raw {
		if err := raw[i].QuorumSet.visitValidators(func(pk string) error {
			if pk == "" {
				return fmt.Errorf("%w: quorum set of %s references an empty public key", ErrInvalidFbas, raw[i].PublicKey)
			}
			addKey(pk)
			return nil
		}); err != nil {
			return nil, err
		}
	}
	slices.Sort(keys)

	f := &Fbas{
		nodes: make([]Node, len(keys)),
		index: make(map[string]NodeID, len(keys)),
	}
	for i, pk := range keys {
		f.index[pk] = NodeID(i)
	}
	for i, pk := range keys {
		f.nodes[i] = Node{PublicKey: pk, QuorumSet: f.quorumSetFromRaw(described[pk]).Standardized()}
	}
	key, err := f.canonicalKey()
	if err != nil {
		return nil, fmt.Errorf("computing canonical key: %w", err)
	}
	f.key = key
	return f, nil
}

func (f *Fbas) quorumSetFromRaw(raw *RawQuorumSet) QuorumSet {
	if raw == nil {
		return UnsatisfiableQuorumSet()
	}
	qs := QuorumSet{Threshold: raw.Threshold}
	for _, pk := range raw.Validators {
		qs.Validators = append(qs.Validators, f.index[pk])
	}
	for i := range raw.InnerQuorumSets {
		qs.InnerQuorumSets = append(qs.InnerQuorumSets, f.quorumSetFromRaw(&raw.InnerQuorumSets[i]))
	}
	return qs
}

// NumberOfNodes returns the number of nodes, including implicitly added ones.
func (f *Fbas) NumberOfNodes() int {
	return len(f.nodes)
}

func (f *Fbas) Node(id NodeID) Node {
	return f.nodes[id]
}

func (f *Fbas) QuorumSet(id NodeID) QuorumSet {
	return f.nodes[id].QuorumSet
}

func (f *Fbas) PublicKey(id NodeID) string {
	return f.nodes[id].PublicKey
}

// NodeID returns the id of the node with given public key.
func (f *Fbas) NodeID(publicKey string) (NodeID, bool) {
	id, ok := f.index[publicKey]
	return id, ok
}

// AllNodes returns a new set containing every node of the FBAS.
func (f *Fbas) AllNodes() *bitset.BitSet {
	all := bitset.New(uint(len(f.nodes)))
	for i := range f.nodes {
		all.Set(uint(i))
	}
	return all
}

// NodeIDs resolves public keys to node ids. Unknown keys are returned separately.
func (f *Fbas) NodeIDs(publicKeys []string) (ids *bitset.BitSet, unknown []string) {
	ids = bitset.New(uint(len(f.nodes)))
	for _, pk := range publicKeys {
		if id, ok := f.index[pk]; ok {
			ids.Set(uint(id))
		} else {
			unknown = append(unknown, pk)
		}
	}
	return ids, unknown
}

// Key returns the canonical key of the FBAS.
func (f *Fbas) Key() Key {
	return f.key
}
