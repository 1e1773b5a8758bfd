package pipeline

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var ErrParse = errors.New("parse error")

// ParseInactiveNodes parses a JSON array of public keys. Empty input means no
// inactive nodes.
func ParseInactiveNodes(data []byte) ([]string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var nodes []string
	if err := json.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("%w: inactive nodes: %v", ErrParse, err)
	}
	return nodes, nil
}
