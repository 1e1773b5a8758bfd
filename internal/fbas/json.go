package fbas

import (
	"encoding/json"
	"fmt"
)

type (
	// RawNode is a node as described by stellarbeat.io style JSON. Fields not
	// relevant for the structure of the FBAS are ignored.
	RawNode struct {
		PublicKey string        `json:"publicKey"`
		QuorumSet *RawQuorumSet `json:"quorumSet,omitempty"`
	}

	RawQuorumSet struct {
		Threshold       uint           `json:"threshold"`
		Validators      []string       `json:"validators"`
		InnerQuorumSets []RawQuorumSet `json:"innerQuorumSets"`
	}
)

// FromJSON parses a JSON array of nodes and builds the FBAS in standard form.
func FromJSON(data []byte) (*Fbas, error) {
	var nodes []RawNode
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFbas, err)
	}
	return New(nodes)
}

func (q *RawQuorumSet) visitValidators(fn func(pk string) error) error {
	if q == nil {
		return nil
	}
	for _, pk := range q.Validators {
		if err := fn(pk); err != nil {
			return err
		}
	}
	for i := range q.InnerQuorumSets {
		if err := q.InnerQuorumSets[i].visitValidators(fn); err != nil {
			return err
		}
	}
	return nil
}

// ToRaw converts the quorum set back into its JSON form, naming validators with name.
func (q QuorumSet) ToRaw(name func(NodeID) string) RawQuorumSet {
	raw := RawQuorumSet{
		Threshold:       q.Threshold,
		Validators:      make([]string, 0, len(q.Validators)),
		InnerQuorumSets: make([]RawQuorumSet, 0, len(q.InnerQuorumSets)),
	}
	for _, v := range q.Validators {
		raw.Validators = append(raw.Validators, name(v))
	}
	for _, iq := range q.InnerQuorumSets {
		raw.InnerQuorumSets = append(raw.InnerQuorumSets, iq.ToRaw(name))
	}
	return raw
}

// PrettyQuorumSets renders quorum sets as a JSON array, naming validators with name.
func PrettyQuorumSets(qs []QuorumSet, name func(NodeID) string) string {
	raw := make([]RawQuorumSet, len(qs))
	for i, q := range qs {
		raw[i] = q.ToRaw(name)
	}
	b, err := json.Marshal(raw)
	if err != nil {
		panic(err)
	}
	return string(b)
}
