package raftsim

import (
	"fmt"
	"time"
)

// NodeId identifies a node within a cluster. Ids are assigned at cluster
// construction, starting at 1, and are stable for the lifetime of the
// process.
type NodeId int

type NodeState string

const (
	NodeStateFollower  NodeState = "follower"
	NodeStateCandidate NodeState = "candidate"
	NodeStateLeader    NodeState = "leader"
)

// Term is a logical election epoch. It never decreases for a given node.
type Term int64

type ClusterCfg struct {
	Nodes int

	Logger Logger

	MinElectionTimeout time.Duration
	MaxElectionTimeout time.Duration

	HeartbeatInterval time.Duration
}

func (cfg *ClusterCfg) check() error {
	if cfg.Nodes < 1 {
		return fmt.Errorf("missing or invalid node count")
	}

	if cfg.Logger == nil {
		return fmt.Errorf("missing logger")
	}

	if cfg.MinElectionTimeout == 0 {
		cfg.MinElectionTimeout = 150 * time.Millisecond
	}

	if cfg.MaxElectionTimeout == 0 {
		cfg.MaxElectionTimeout = 300 * time.Millisecond
	}

	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = 50 * time.Millisecond
	}

	if cfg.MinElectionTimeout > cfg.MaxElectionTimeout {
		return fmt.Errorf("invalid election timeout range")
	}

	if cfg.HeartbeatInterval >= cfg.MinElectionTimeout {
		return fmt.Errorf("heartbeat interval must be smaller than the " +
			"minimal election timeout")
	}

	return nil
}

// NodeStatus is the externally visible state of a single node, as reported
// by Cluster.Snapshot.
type NodeStatus struct {
	Id    NodeId    `json:"id"`
	State NodeState `json:"state"`
	Term  Term      `json:"term"`
	Alive bool      `json:"alive"`
}
