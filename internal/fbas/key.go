package fbas

import (
	"github.com/fxamacker/cbor/v2"
)

// Key identifies an FBAS by its standard form. Equal keys mean structurally
// identical networks; it is usable as a map key.
type Key string

var canonicalEncMode = mustEncMode(cbor.CoreDetEncOptions())

type (
	canonicalNode struct {
		_         struct{} `cbor:",toarray"`
		PublicKey string
		QuorumSet canonicalQuorumSet
	}

	canonicalQuorumSet struct {
		_               struct{} `cbor:",toarray"`
		Threshold       uint
		Validators      []NodeID
		InnerQuorumSets []canonicalQuorumSet
	}
)

func (f *Fbas) canonicalKey() (Key, error) {
	nodes := make([]canonicalNode, len(f.nodes))
	for i, n := range f.nodes {
		nodes[i] = canonicalNode{PublicKey: n.PublicKey, QuorumSet: toCanonical(n.QuorumSet)}
	}
	b, err := canonicalEncMode.Marshal(nodes)
	if err != nil {
		return "", err
	}
	return Key(b), nil
}

func toCanonical(q QuorumSet) canonicalQuorumSet {
	c := canonicalQuorumSet{
		Threshold:       q.Threshold,
		Validators:      q.Validators,
		InnerQuorumSets: make([]canonicalQuorumSet, len(q.InnerQuorumSets)),
	}
	if c.Validators == nil {
		c.Validators = []NodeID{}
	}
	for i, iq := range q.InnerQuorumSets {
		c.InnerQuorumSets[i] = toCanonical(iq)
	}
	return c
}

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	em, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return em
}
