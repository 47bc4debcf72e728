package raftsim

import (
	"fmt"
	"sync"
)

// nodePair is a normalized unordered pair of node ids; reachability is
// symmetric so pairs are stored with the smaller id first.
type nodePair struct {
	a NodeId
	b NodeId
}

func newNodePair(a, b NodeId) nodePair {
	if a > b {
		a, b = b, a
	}

	return nodePair{a: a, b: b}
}

// Cluster owns the node set and routes every message exchanged between
// nodes, applying liveness and partition filtering in the delivery path.
// It is the only mutation point for fault injection.
type Cluster struct {
	Cfg ClusterCfg
	Log Logger

	nodeIds []NodeId
	nodes   map[NodeId]*node

	hub *observerHub

	// mu guards the alive set and the partition map. Fault-injection calls
	// race against ongoing message delivery; this is the single coarse lock
	// resolving those races.
	mu           sync.Mutex
	aliveIds     map[NodeId]bool
	blockedPairs map[nodePair]struct{}

	errorChan chan<- error
	wg        sync.WaitGroup
}

func NewCluster(cfg ClusterCfg) (*Cluster, error) {
	if err := cfg.check(); err != nil {
		return nil, err
	}

	c := &Cluster{
		Cfg: cfg,
		Log: cfg.Logger,

		nodes: make(map[NodeId]*node),

		hub: newObserverHub(),

		aliveIds:     make(map[NodeId]bool),
		blockedPairs: make(map[nodePair]struct{}),
	}

	for i := 1; i <= cfg.Nodes; i++ {
		id := NodeId(i)

		c.nodeIds = append(c.nodeIds, id)
		c.nodes[id] = newNode(id, c)
		c.aliveIds[id] = true
	}

	return c, nil
}

func (c *Cluster) Start(errorChan chan<- error) error {
	c.Log.Debug(1, "starting %d nodes", len(c.nodes))

	c.errorChan = errorChan

	for _, id := range c.nodeIds {
		c.nodes[id].start(&c.wg)
	}

	c.Log.Debug(1, "started")

	return nil
}

func (c *Cluster) Stop() {
	c.Log.Debug(1, "stopping")

	for _, id := range c.nodeIds {
		c.nodes[id].stop()
	}

	c.wg.Wait()

	c.Log.Debug(1, "stopped")
}

// Size returns the total configured cluster size. Majorities are always
// computed against this value, never against the alive count: a minority
// partition must not be able to elect a leader even if all its members are
// alive.
func (c *Cluster) Size() int {
	return len(c.nodes)
}

// Snapshot reports the current state of every node. Liveness comes from the
// cluster's own alive set, which SetAlive updates synchronously; the node
// goroutine applies the toggle shortly after.
func (c *Cluster) Snapshot() []NodeStatus {
	c.mu.Lock()
	defer c.mu.Unlock()

	statuses := make([]NodeStatus, 0, len(c.nodeIds))

	for _, id := range c.nodeIds {
		status := c.nodes[id].status()
		status.Alive = c.aliveIds[id]

		statuses = append(statuses, status)
	}

	return statuses
}

// SetAlive toggles the liveness of a node. Suspending a node stops its
// timers and message processing; resuming it rearms a fresh election timer.
// The call is idempotent.
func (c *Cluster) SetAlive(id NodeId, alive bool) error {
	n, found := c.nodes[id]
	if !found {
		return fmt.Errorf("unknown node id %d", id)
	}

	c.mu.Lock()

	if c.aliveIds[id] == alive {
		c.mu.Unlock()
		return nil
	}

	c.aliveIds[id] = alive
	c.mu.Unlock()

	// From this point on the delivery path already treats the node
	// accordingly; the control channel lets the node goroutine stop or
	// rearm its own timers.
	n.aliveChan <- alive

	return nil
}

// Partition makes every pair of nodes across the two groups mutually
// unreachable. Pairs within a group are unaffected. Calls accumulate;
// Heal clears everything.
func (c *Cluster) Partition(groupA, groupB []NodeId) error {
	if len(groupA) == 0 || len(groupB) == 0 {
		return fmt.Errorf("empty partition group")
	}

	for _, id := range append(append([]NodeId{}, groupA...), groupB...) {
		if _, found := c.nodes[id]; !found {
			return fmt.Errorf("unknown node id %d", id)
		}
	}

	inA := make(map[NodeId]struct{})
	for _, id := range groupA {
		inA[id] = struct{}{}
	}

	for _, id := range groupB {
		if _, found := inA[id]; found {
			return fmt.Errorf("overlapping partition groups (node %d)", id)
		}
	}

	c.Log.Info("partitioning %v from %v", groupA, groupB)

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, a := range groupA {
		for _, b := range groupB {
			c.blockedPairs[newNodePair(a, b)] = struct{}{}
		}
	}

	return nil
}

// Heal restores full connectivity. It does not trigger anything by itself;
// convergence happens through normal heartbeat and vote traffic once
// messages flow again.
func (c *Cluster) Heal() {
	c.Log.Info("healing partitions")

	c.mu.Lock()
	defer c.mu.Unlock()

	c.blockedPairs = make(map[nodePair]struct{})
}

func (c *Cluster) Subscribe(observer Observer) SubscriptionId {
	return c.hub.subscribe(observer)
}

func (c *Cluster) Unsubscribe(id SubscriptionId) {
	c.hub.unsubscribe(id)
}

// deliver routes a message to its recipient. Messages involving a dead node
// or crossing a partition are dropped silently; the sender never learns
// about the loss. Every send is published to observers with its delivery
// outcome.
func (c *Cluster) deliver(env Envelope) {
	c.mu.Lock()

	delivered := c.aliveIds[env.SenderId] && c.aliveIds[env.RecipientId]

	if delivered {
		pair := newNodePair(env.SenderId, env.RecipientId)
		if _, blocked := c.blockedPairs[pair]; blocked {
			delivered = false
		}
	}

	c.mu.Unlock()

	if delivered {
		select {
		case c.nodes[env.RecipientId].inbox <- env:
		default:
			// A full inbox behaves like a saturated best-effort network
			// path: the message vanishes.
			c.Log.Debug(1, "dropping %v for %d: inbox full",
				env.Msg, env.RecipientId)
			delivered = false
		}
	}

	c.hub.publishMessageSent(MessageSent{
		Envelope:  env,
		Delivered: delivered,
	})
}

func (c *Cluster) publishStateChange(event NodeStateChanged) {
	c.Log.Debug(1, "node %d is now %s in term %d",
		event.NodeId, event.NewState, event.Term)

	c.hub.publishStateChange(event)
}

func (c *Cluster) reportError(id NodeId, msg string) {
	if c.errorChan == nil {
		return
	}

	select {
	case c.errorChan <- fmt.Errorf("node %d: %s", id, msg):
	default:
	}
}
