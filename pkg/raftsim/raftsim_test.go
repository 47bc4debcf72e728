package raftsim

import (
	"sync"
	"testing"
	"time"
)

type testLogger struct {
	t *testing.T
}

func (l testLogger) Debug(level int, format string, args ...interface{}) {
	l.t.Logf("debug: "+format, args...)
}

func (l testLogger) Info(format string, args ...interface{}) {
	l.t.Logf("info: "+format, args...)
}

func (l testLogger) Error(format string, args ...interface{}) {
	l.t.Logf("error: "+format, args...)
}

// eventRecorder collects published events for later inspection.
type eventRecorder struct {
	mu           sync.Mutex
	stateChanges []NodeStateChanged
	messages     []MessageSent
}

func (r *eventRecorder) OnNodeStateChanged(event NodeStateChanged) {
	r.mu.Lock()
	r.stateChanges = append(r.stateChanges, event)
	r.mu.Unlock()
}

func (r *eventRecorder) OnMessageSent(event MessageSent) {
	r.mu.Lock()
	r.messages = append(r.messages, event)
	r.mu.Unlock()
}

func (r *eventRecorder) StateChanges() []NodeStateChanged {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]NodeStateChanged{}, r.stateChanges...)
}

func (r *eventRecorder) Messages() []MessageSent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]MessageSent{}, r.messages...)
}

func newTestCluster(t *testing.T, nbNodes int) *Cluster {
	t.Helper()

	cfg := ClusterCfg{
		Nodes: nbNodes,

		Logger: testLogger{t},

		MinElectionTimeout: 50 * time.Millisecond,
		MaxElectionTimeout: 100 * time.Millisecond,
		HeartbeatInterval:  10 * time.Millisecond,
	}

	c, err := NewCluster(cfg)
	if err != nil {
		t.Fatalf("cannot create cluster: %v", err)
	}

	return c
}

func startTestCluster(t *testing.T, nbNodes int) *Cluster {
	t.Helper()

	c := newTestCluster(t, nbNodes)

	errorChan := make(chan error, nbNodes)

	if err := c.Start(errorChan); err != nil {
		t.Fatalf("cannot start cluster: %v", err)
	}

	t.Cleanup(c.Stop)

	return c
}

func aliveLeaders(c *Cluster) []NodeStatus {
	var leaders []NodeStatus

	for _, status := range c.Snapshot() {
		if status.Alive && status.State == NodeStateLeader {
			leaders = append(leaders, status)
		}
	}

	return leaders
}

// waitForLeader polls until exactly one alive node reports itself leader.
func waitForLeader(t *testing.T, c *Cluster, timeout time.Duration) NodeStatus {
	t.Helper()

	deadline := time.Now().Add(timeout)

	for time.Now().Before(deadline) {
		if leaders := aliveLeaders(c); len(leaders) == 1 {
			return leaders[0]
		}

		time.Sleep(5 * time.Millisecond)
	}

	t.Fatalf("no leader elected after %v", timeout)
	return NodeStatus{}
}

// checkSingleLeaderPerTerm fails if a snapshot ever contains two leaders
// sharing a term. It samples for the whole duration.
func checkSingleLeaderPerTerm(t *testing.T, c *Cluster, duration time.Duration) {
	t.Helper()

	deadline := time.Now().Add(duration)

	for time.Now().Before(deadline) {
		leaderTerms := make(map[Term]NodeId)

		for _, status := range c.Snapshot() {
			if status.State != NodeStateLeader {
				continue
			}

			if otherId, found := leaderTerms[status.Term]; found {
				t.Fatalf("nodes %d and %d are both leader in term %d",
					otherId, status.Id, status.Term)
			}

			leaderTerms[status.Term] = status.Id
		}

		time.Sleep(2 * time.Millisecond)
	}
}
