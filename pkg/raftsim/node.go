package raftsim

import (
	"math/rand"
	"sync"
	"time"
)

// NoVote marks the absence of a vote in the current term. Node ids start at
// 1, so zero is never a valid grantee.
const NoVote NodeId = 0

// node is a single simulated server. Nodes are owned exclusively by their
// cluster and are never reachable by outside code; all interaction goes
// through the cluster control surface.
//
// Each node runs its own goroutine and processes one event at a time: a
// timer expiration, a liveness toggle or an incoming message. Fields below
// statusMu are read by Cluster.Snapshot from other goroutines; everything
// else is touched only by the node goroutine.
type node struct {
	Log Logger

	Id NodeId

	cluster *Cluster

	logStore *LogStore

	// Candidate only
	votes map[NodeId]bool

	currentLeader NodeId
	votedFor      NodeId

	randGenerator *rand.Rand

	heartbeatTicker *time.Ticker
	electionTimer   *time.Timer // follower or candidate only

	inbox     chan Envelope
	aliveChan chan bool
	stopChan  chan struct{}

	statusMu    sync.RWMutex
	state       NodeState
	currentTerm Term
	alive       bool
}

func newNode(id NodeId, cluster *Cluster) *node {
	randSource := rand.NewSource(time.Now().UnixNano() + int64(id))

	n := &node{
		Log: newNodeLogger(cluster.Log, id),

		Id: id,

		cluster: cluster,

		logStore: NewLogStore(),

		votedFor: NoVote,

		randGenerator: rand.New(randSource),

		inbox:     make(chan Envelope, 128),
		aliveChan: make(chan bool, 4),
		stopChan:  make(chan struct{}),

		state: NodeStateFollower,
		alive: true,
	}

	n.heartbeatTicker = time.NewTicker(cluster.Cfg.HeartbeatInterval)

	return n
}

func (n *node) start(wg *sync.WaitGroup) {
	n.setupElectionTimer()

	wg.Add(1)
	go n.main(wg)
}

func (n *node) stop() {
	close(n.stopChan)
}

func (n *node) main(wg *sync.WaitGroup) {
	defer wg.Done()

	defer func() {
		if value := recover(); value != nil {
			msg := RecoverValueString(value)
			trace := StackTrace(10)
			n.Log.Error("panic: %s\n%s", msg, trace)

			n.cluster.reportError(n.Id, msg)
		}
	}()

	for {
		select {
		case <-n.stopChan:
			n.shutdown()
			return

		case alive := <-n.aliveChan:
			if alive {
				n.resume()
			} else {
				n.suspend()
			}

		case <-n.heartbeatTickerC():
			n.onHeartbeatTicker()

		case <-n.electionTimerC():
			n.onElectionTimer()

		case env := <-n.inbox:
			n.onMsg(env.SenderId, env.Msg)
		}
	}
}

func (n *node) shutdown() {
	n.heartbeatTicker.Stop()

	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}
}

// suspend models failure: every timer is stopped and nothing is processed
// until the node is resumed. State is kept as is; this is "stopped", not
// "crashed and wiped".
func (n *node) suspend() {
	if !n.isAlive() {
		return
	}

	n.Log.Info("suspending")

	n.setAlive(false)

	n.heartbeatTicker.Stop()

	if n.electionTimer != nil {
		n.electionTimer.Stop()
		n.electionTimer = nil
	}
}

func (n *node) resume() {
	if n.isAlive() {
		return
	}

	n.Log.Info("resuming as %s in term %d", n.state, n.currentTerm)

	n.setAlive(true)

	if n.state == NodeStateLeader {
		n.heartbeatTicker.Reset(n.cluster.Cfg.HeartbeatInterval)
	} else {
		n.setupElectionTimer()
	}
}

// heartbeatTickerC and electionTimerC return nil channels while the node is
// suspended so that the main select ignores timer events entirely.
func (n *node) heartbeatTickerC() <-chan time.Time {
	if !n.isAlive() {
		return nil
	}

	return n.heartbeatTicker.C
}

func (n *node) electionTimerC() <-chan time.Time {
	if !n.isAlive() || n.electionTimer == nil {
		return nil
	}

	return n.electionTimer.C
}

func (n *node) onHeartbeatTicker() {
	if n.state != NodeStateLeader {
		return
	}

	n.broadcastMsg(&MsgHeartbeat{
		Term:     n.currentTerm,
		LeaderId: n.Id,
	})
}

func (n *node) onElectionTimer() {
	switch n.state {
	case NodeStateFollower:
		n.startElection()

	case NodeStateCandidate:
		n.onElectionTimeout()

	default:
		Panicf("unexpected election timer activation in state %v", n.state)
	}
}

func (n *node) onMsg(sourceId NodeId, msg Msg) {
	if !n.isAlive() {
		return
	}

	n.Log.Debug(2, "received %v from %d", msg, sourceId)

	term := msg.GetTerm()

	if term < n.currentTerm {
		// The message is stale. We ignore it, but we answer vote requests
		// with a rejection so the sender can update its term.

		n.Log.Debug(1, "ignoring stale message %v (current term: %d)",
			msg, n.currentTerm)

		if _, isVoteRequest := msg.(*MsgVoteRequest); isVoteRequest {
			n.sendMsg(sourceId, &MsgVoteResponse{
				Term:    n.currentTerm,
				Granted: false,
			})
		}

		return
	}

	if term > n.currentTerm {
		// If a message contains a term higher than the current one, we are
		// out-of-date and must adopt the term and revert to follower before
		// processing the message itself.

		n.Log.Debug(1, "received message with term %d (current term: %d), "+
			"reverting to follower", term, n.currentTerm)

		n.adoptTerm(term)

		if n.state != NodeStateFollower {
			n.revertToFollower()
		}
	}

	switch msgv := msg.(type) {
	case *MsgVoteRequest:
		n.onVoteRequest(sourceId, msgv)
	case *MsgVoteResponse:
		n.onVoteResponse(sourceId, msgv)
	case *MsgHeartbeat:
		n.onHeartbeat(sourceId, msgv)
	case *MsgHeartbeatAck:
		n.onHeartbeatAck(sourceId, msgv)
	default:
		n.Log.Error("unexpected message %v from %d", msg, sourceId)
	}
}

func (n *node) onVoteRequest(sourceId NodeId, req *MsgVoteRequest) {
	// A candidate observing a competing candidacy of equal or higher term
	// steps down. It keeps its own vote, so a competitor of the same term is
	// still denied below.
	if n.state == NodeStateCandidate {
		n.revertToFollower()
	}

	granted := n.votedFor == NoVote || n.votedFor == req.CandidateId

	if granted {
		n.votedFor = req.CandidateId
		n.setupElectionTimer()
	}

	n.sendMsg(sourceId, &MsgVoteResponse{
		Term:    n.currentTerm,
		Granted: granted,
	})
}

func (n *node) onVoteResponse(sourceId NodeId, res *MsgVoteResponse) {
	if n.state != NodeStateCandidate {
		n.Log.Debug(2, "ignoring %v while %s", res, n.state)
		return
	}

	// Update the vote table
	n.votes[sourceId] = res.Granted

	// Count votes
	nbVotes := 0

	for _, vote := range n.votes {
		if vote {
			nbVotes++
		}
	}

	// The majority is computed over the total cluster size, never over the
	// number of nodes currently alive or reachable.
	nbNodes := n.cluster.Size()

	if nbVotes <= nbNodes/2 {
		return
	}

	n.Log.Info("obtained %d/%d votes, becoming leader", nbVotes, nbNodes)

	n.becomeLeader()
}

func (n *node) onHeartbeat(sourceId NodeId, req *MsgHeartbeat) {
	switch n.state {
	case NodeStateFollower:
		n.resetElectionTimer()

	case NodeStateCandidate:
		// Another node claims leadership for an equal or higher term
		n.revertToFollower()

	case NodeStateLeader:
		// Two leaders must never share a term; a legitimate competing claim
		// carries a higher term and was handled before dispatch.
		n.Log.Error("received %v from %d while leader of the same term",
			req, sourceId)
		return
	}

	if req.LeaderId != n.currentLeader {
		n.Log.Info("leader is %d", req.LeaderId)
		n.currentLeader = req.LeaderId
	}

	n.sendMsg(sourceId, &MsgHeartbeatAck{
		Term:    n.currentTerm,
		Success: true,
	})
}

func (n *node) onHeartbeatAck(sourceId NodeId, res *MsgHeartbeatAck) {
	// Nothing to do: the simulation does not track replication progress.
	n.Log.Debug(2, "received %v from %d", res, sourceId)
}

func (n *node) startElection() {
	if n.state == NodeStateLeader {
		Panicf("cannot start election in state %v", n.state)
	}

	n.adoptTerm(n.currentTerm + 1)
	n.votedFor = n.Id

	n.Log.Debug(1, "starting election for term %d", n.currentTerm)

	n.setState(NodeStateCandidate)

	n.votes = map[NodeId]bool{n.Id: true}

	n.broadcastMsg(&MsgVoteRequest{
		Term:        n.currentTerm,
		CandidateId: n.Id,
	})

	// Rearm the election timer with a fresh randomized timeout to detect an
	// election timeout; randomization is what resolves split votes.
	n.setupElectionTimer()
}

func (n *node) onElectionTimeout() {
	if n.state != NodeStateCandidate {
		Panicf("election cannot timeout in state %v", n.state)
	}

	n.Log.Debug(1, "election timeout in term %d", n.currentTerm)

	// The current election timed out; reset to follower so that
	// startElection runs on a clean slate, then immediately start a new
	// election for the next term.
	n.setState(NodeStateFollower)

	n.startElection()
}

func (n *node) becomeLeader() {
	n.setState(NodeStateLeader)
	n.currentLeader = n.Id

	// Clear the election timer; leaders do not run one
	if n.electionTimer != nil {
		n.electionTimer.Stop()
		n.electionTimer = nil
	}

	// Clear candidate data
	n.votes = nil

	// Record the election in the placeholder log
	n.logStore.AppendEntry(LogEntry{Term: n.currentTerm})

	// Assert leadership immediately instead of waiting for the first tick
	n.broadcastMsg(&MsgHeartbeat{
		Term:     n.currentTerm,
		LeaderId: n.Id,
	})

	n.heartbeatTicker.Reset(n.cluster.Cfg.HeartbeatInterval)
}

func (n *node) revertToFollower() {
	n.setState(NodeStateFollower)

	// Clear candidate data
	n.votes = nil

	// Rearm the election timer; if no heartbeat arrives before it goes off,
	// we will become candidate and start an election.
	n.setupElectionTimer()
}

// adoptTerm advances the current term. Terms never move backwards; the vote
// belongs to the term it was cast in and is cleared with it.
func (n *node) adoptTerm(term Term) {
	if term < n.currentTerm {
		Panicf("cannot adopt term %d (current term: %d)", term, n.currentTerm)
	}

	if term == n.currentTerm {
		return
	}

	n.statusMu.Lock()
	n.currentTerm = term
	n.statusMu.Unlock()

	n.votedFor = NoVote
	n.votes = nil
}

func (n *node) setState(state NodeState) {
	if state == n.state {
		return
	}

	oldState := n.state

	n.statusMu.Lock()
	n.state = state
	n.statusMu.Unlock()

	n.cluster.publishStateChange(NodeStateChanged{
		NodeId:   n.Id,
		OldState: oldState,
		NewState: state,
		Term:     n.currentTerm,
	})
}

func (n *node) setAlive(alive bool) {
	n.statusMu.Lock()
	n.alive = alive
	n.statusMu.Unlock()
}

func (n *node) isAlive() bool {
	n.statusMu.RLock()
	defer n.statusMu.RUnlock()

	return n.alive
}

func (n *node) status() NodeStatus {
	n.statusMu.RLock()
	defer n.statusMu.RUnlock()

	return NodeStatus{
		Id:    n.Id,
		State: n.state,
		Term:  n.currentTerm,
		Alive: n.alive,
	}
}

func (n *node) setupElectionTimer() {
	timeout := n.electionTimeout()
	n.Log.Debug(2, "election timer will expire in %v", timeout)

	// Replacing the timer rather than reusing it guarantees that a stale
	// expiration queued on the old channel can never be observed.
	if n.electionTimer != nil {
		n.electionTimer.Stop()
	}

	n.electionTimer = time.NewTimer(timeout)
}

func (n *node) resetElectionTimer() {
	if n.state != NodeStateFollower {
		Panicf("cannot reset election timer in state %v", n.state)
	}

	n.setupElectionTimer()
}

func (n *node) electionTimeout() time.Duration {
	minTimeoutMs := n.cluster.Cfg.MinElectionTimeout.Milliseconds()
	maxTimeoutMs := n.cluster.Cfg.MaxElectionTimeout.Milliseconds()

	jitter := n.randGenerator.Int63n(maxTimeoutMs - minTimeoutMs + 1)
	timeoutMs := minTimeoutMs + jitter

	return time.Duration(timeoutMs) * time.Millisecond
}

func (n *node) sendMsg(recipientId NodeId, msg Msg) {
	n.Log.Debug(2, "sending %v to %d", msg, recipientId)

	n.cluster.deliver(Envelope{
		SenderId:    n.Id,
		RecipientId: recipientId,
		Msg:         msg,
	})
}

func (n *node) broadcastMsg(msg Msg) {
	for _, id := range n.cluster.nodeIds {
		if id == n.Id {
			continue
		}

		n.sendMsg(id, msg)
	}
}
