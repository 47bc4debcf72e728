package raftsim

import (
	"testing"
)

// The tests in this file drive the state machine directly, without starting
// node goroutines: every event is injected by calling the handler the main
// loop would have called.

func recvEnvelope(t *testing.T, n *node) Envelope {
	t.Helper()

	select {
	case env := <-n.inbox:
		return env
	default:
		t.Fatalf("node %d has no pending message", n.Id)
		return Envelope{}
	}
}

func recvVoteResponse(t *testing.T, n *node) *MsgVoteResponse {
	t.Helper()

	env := recvEnvelope(t, n)

	res, ok := env.Msg.(*MsgVoteResponse)
	if !ok {
		t.Fatalf("expected vote response, got %v", env.Msg)
	}

	return res
}

func drainInbox(n *node) {
	for {
		select {
		case <-n.inbox:
		default:
			return
		}
	}
}

func Test_node_grants_one_vote_per_term(t *testing.T) {
	c := newTestCluster(t, 3)
	n := c.nodes[1]

	n.onMsg(2, &MsgVoteRequest{Term: 1, CandidateId: 2})

	if res := recvVoteResponse(t, c.nodes[2]); !res.Granted {
		t.Fatalf("expected vote to be granted")
	}

	if n.votedFor != 2 {
		t.Fatalf("expected votedFor 2, got %d", n.votedFor)
	}

	// A retransmitted request from the same candidate is granted again
	n.onMsg(2, &MsgVoteRequest{Term: 1, CandidateId: 2})

	if res := recvVoteResponse(t, c.nodes[2]); !res.Granted {
		t.Fatalf("expected repeated vote to be granted")
	}

	// A competing candidate of the same term is denied
	n.onMsg(3, &MsgVoteRequest{Term: 1, CandidateId: 3})

	if res := recvVoteResponse(t, c.nodes[3]); res.Granted {
		t.Fatalf("expected competing vote to be denied")
	}

	if n.votedFor != 2 {
		t.Fatalf("vote moved to %d", n.votedFor)
	}
}

func Test_node_rejects_stale_messages(t *testing.T) {
	c := newTestCluster(t, 3)
	n := c.nodes[1]

	n.onMsg(2, &MsgHeartbeat{Term: 5, LeaderId: 2})

	if n.currentTerm != 5 {
		t.Fatalf("expected term 5, got %d", n.currentTerm)
	}

	drainInbox(c.nodes[2])

	// A stale vote request is answered with a rejection carrying the
	// current term.
	n.onMsg(3, &MsgVoteRequest{Term: 3, CandidateId: 3})

	res := recvVoteResponse(t, c.nodes[3])

	if res.Granted {
		t.Fatalf("expected stale vote request to be denied")
	}

	if res.Term != 5 {
		t.Fatalf("expected response term 5, got %d", res.Term)
	}

	// A stale heartbeat is ignored entirely
	n.onMsg(3, &MsgHeartbeat{Term: 2, LeaderId: 3})

	if n.currentTerm != 5 {
		t.Fatalf("term moved to %d", n.currentTerm)
	}
}

func Test_node_election_requires_majority_of_total_size(t *testing.T) {
	c := newTestCluster(t, 5)
	n := c.nodes[1]

	n.startElection()

	if n.state != NodeStateCandidate {
		t.Fatalf("expected candidate, got %s", n.state)
	}

	if n.currentTerm != 1 {
		t.Fatalf("expected term 1, got %d", n.currentTerm)
	}

	// Two votes including our own are not a majority of five
	n.onMsg(2, &MsgVoteResponse{Term: 1, Granted: true})

	if n.state != NodeStateCandidate {
		t.Fatalf("became %s with 2/5 votes", n.state)
	}

	// Denials do not count
	n.onMsg(3, &MsgVoteResponse{Term: 1, Granted: false})

	if n.state != NodeStateCandidate {
		t.Fatalf("became %s on a denial", n.state)
	}

	n.onMsg(4, &MsgVoteResponse{Term: 1, Granted: true})

	if n.state != NodeStateLeader {
		t.Fatalf("expected leader with 3/5 votes, got %s", n.state)
	}

	if n.electionTimer != nil {
		t.Fatalf("leader still has an election timer")
	}
}

func Test_node_candidate_steps_down_on_competing_claim(t *testing.T) {
	c := newTestCluster(t, 3)
	n := c.nodes[1]

	n.startElection()

	drainInbox(c.nodes[2])

	// A vote request of equal term makes the candidate step down, but its
	// own vote stays put so the competitor is denied.
	n.onMsg(2, &MsgVoteRequest{Term: 1, CandidateId: 2})

	if n.state != NodeStateFollower {
		t.Fatalf("expected follower, got %s", n.state)
	}

	if res := recvVoteResponse(t, c.nodes[2]); res.Granted {
		t.Fatalf("candidate gave away its own vote")
	}

	if n.votedFor != n.Id {
		t.Fatalf("expected votedFor %d, got %d", n.Id, n.votedFor)
	}
}

func Test_node_leader_steps_down_on_higher_term(t *testing.T) {
	c := newTestCluster(t, 3)
	n := c.nodes[1]

	n.startElection()
	n.onMsg(2, &MsgVoteResponse{Term: 1, Granted: true})

	if n.state != NodeStateLeader {
		t.Fatalf("expected leader, got %s", n.state)
	}

	n.onMsg(3, &MsgHeartbeat{Term: 2, LeaderId: 3})

	if n.state != NodeStateFollower {
		t.Fatalf("expected follower, got %s", n.state)
	}

	if n.currentTerm != 2 {
		t.Fatalf("expected term 2, got %d", n.currentTerm)
	}

	if n.votedFor != NoVote {
		t.Fatalf("votedFor not cleared on term adoption")
	}
}

func Test_node_split_vote_restarts_election(t *testing.T) {
	c := newTestCluster(t, 3)
	n := c.nodes[1]

	n.startElection()
	n.onMsg(2, &MsgVoteResponse{Term: 1, Granted: false})

	// The election timer fires while still candidate: new term, fresh
	// candidacy, vote for self.
	n.onElectionTimer()

	if n.state != NodeStateCandidate {
		t.Fatalf("expected candidate, got %s", n.state)
	}

	if n.currentTerm != 2 {
		t.Fatalf("expected term 2, got %d", n.currentTerm)
	}

	if n.votedFor != n.Id {
		t.Fatalf("expected votedFor %d, got %d", n.Id, n.votedFor)
	}

	if len(n.votes) != 1 || !n.votes[n.Id] {
		t.Fatalf("expected a single self vote, got %v", n.votes)
	}
}

func Test_node_follower_acknowledges_heartbeat(t *testing.T) {
	c := newTestCluster(t, 3)
	n := c.nodes[1]

	n.onMsg(2, &MsgHeartbeat{Term: 1, LeaderId: 2})

	env := recvEnvelope(t, c.nodes[2])

	ack, ok := env.Msg.(*MsgHeartbeatAck)
	if !ok {
		t.Fatalf("expected heartbeat ack, got %v", env.Msg)
	}

	if !ack.Success || ack.Term != 1 {
		t.Fatalf("unexpected ack %v", ack)
	}

	if n.currentLeader != 2 {
		t.Fatalf("expected leader 2, got %d", n.currentLeader)
	}
}

func Test_node_election_appends_log_entry(t *testing.T) {
	c := newTestCluster(t, 3)
	n := c.nodes[1]

	n.startElection()
	n.onMsg(2, &MsgVoteResponse{Term: 1, Granted: true})

	if n.logStore.LastIndex() != 1 {
		t.Fatalf("expected 1 log entry, got %d", n.logStore.LastIndex())
	}

	if n.logStore.LastTerm() != 1 {
		t.Fatalf("expected last term 1, got %d", n.logStore.LastTerm())
	}
}
