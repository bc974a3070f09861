package core

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// NodeState is one entry of a tree snapshot. State holds the JSON encoding of
// the domain's exported fields.
type NodeState struct {
	ID     int             `json:"id"`
	Type   string          `json:"type"`
	Parent int             `json:"parent"`
	State  json.RawMessage `json:"state"`
}

// Snapshot encodes d's subtree in pre-order. Domains must keep links to other
// nodes out of their JSON form (json:"-") so the encoding stays acyclic.
func Snapshot(d Domain) ([]byte, error) {
	var nodes []NodeState
	var err error
	Walk(d, func(x Domain) bool {
		b := x.base()
		raw, merr := json.Marshal(b.self)
		if merr != nil {
			err = fmt.Errorf("snapshot %s: %w", b, merr)
			return false
		}
		parent := 0
		if b.parent != nil {
			parent = b.parent.id
		}
		nodes = append(nodes, NodeState{ID: b.id, Type: b.typeName, Parent: parent, State: raw})
		return true
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(nodes)
}

// Digest is the hex sha256 of Snapshot.
func Digest(d Domain) (string, error) {
	raw, err := Snapshot(d)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}
