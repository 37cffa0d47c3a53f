// Package oraclestate models the oracle registry snapshot: the set of known
// data services and reporting nodes. Snapshots are immutable; services take a
// State value and never observe later registry refreshes mid-operation.
package oraclestate

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownSigner marks a signer address absent from the registry snapshot.
var ErrUnknownSigner = errors.New("signer not registered in oracle state")

// DataService is one logical partition: a group of signers and feeds sharing
// a consensus view.
type DataService struct {
	ID          string `yaml:"id"`
	Description string `yaml:"description,omitempty"`
}

// Node describes a registered reporting node.
type Node struct {
	Address       string `yaml:"evmAddress"`
	DataServiceID string `yaml:"dataServiceId"`
	Name          string `yaml:"name"`
}

// State is a read-only registry snapshot. Node keys are lowercase addresses.
type State struct {
	DataServices map[string]DataService
	Nodes        map[string]Node
}

// PartitionForSigner resolves the data-service partition a signer reports to.
func (s State) PartitionForSigner(signerAddress string) (string, error) {
	node, ok := s.Nodes[strings.ToLower(signerAddress)]
	if !ok {
		return "", fmt.Errorf("%s: %w", signerAddress, ErrUnknownSigner)
	}
	return node.DataServiceID, nil
}

// NodeList returns the known nodes ordered by address for deterministic
// iteration.
func (s State) NodeList() []Node {
	nodes := make([]Node, 0, len(s.Nodes))
	for _, n := range s.Nodes {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return strings.ToLower(nodes[i].Address) < strings.ToLower(nodes[j].Address)
	})
	return nodes
}

// NewState builds a snapshot from its parts, normalizing node address keys.
func NewState(services []DataService, nodes []Node) State {
	st := State{
		DataServices: make(map[string]DataService, len(services)),
		Nodes:        make(map[string]Node, len(nodes)),
	}
	for _, ds := range services {
		st.DataServices[ds.ID] = ds
	}
	for _, n := range nodes {
		st.Nodes[strings.ToLower(n.Address)] = n
	}
	return st
}
