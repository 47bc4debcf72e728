package raftsim

import (
	"encoding/json"
	"fmt"
)

type Msg interface {
	GetType() string
	GetTerm() Term

	fmt.Stringer
}

// Envelope is the unit routed by the cluster message bus. Envelopes are
// immutable: created on send, consumed on delivery or dropped.
type Envelope struct {
	SenderId    NodeId `json:"senderId"`
	RecipientId NodeId `json:"recipientId"`
	Msg         Msg    `json:"msg"`
}

type MsgVoteRequest struct {
	Term        Term
	CandidateId NodeId
}

func (msg *MsgVoteRequest) GetType() string {
	return "voteRequest"
}

func (msg *MsgVoteRequest) GetTerm() Term {
	return msg.Term
}

func (msg *MsgVoteRequest) String() string {
	return fmt.Sprintf("VoteRequest{term: %d, candidateId: %d}",
		msg.Term, msg.CandidateId)
}

type MsgVoteResponse struct {
	Term    Term
	Granted bool
}

func (msg *MsgVoteResponse) GetType() string {
	return "voteResponse"
}

func (msg *MsgVoteResponse) GetTerm() Term {
	return msg.Term
}

func (msg *MsgVoteResponse) String() string {
	return fmt.Sprintf("VoteResponse{term: %d, granted: %v}",
		msg.Term, msg.Granted)
}

type MsgHeartbeat struct {
	Term     Term
	LeaderId NodeId
}

func (msg *MsgHeartbeat) GetType() string {
	return "heartbeat"
}

func (msg *MsgHeartbeat) GetTerm() Term {
	return msg.Term
}

func (msg *MsgHeartbeat) String() string {
	return fmt.Sprintf("Heartbeat{term: %d, leaderId: %d}",
		msg.Term, msg.LeaderId)
}

type MsgHeartbeatAck struct {
	Term    Term
	Success bool
}

func (msg *MsgHeartbeatAck) GetType() string {
	return "heartbeatAck"
}

func (msg *MsgHeartbeatAck) GetTerm() Term {
	return msg.Term
}

func (msg *MsgHeartbeatAck) String() string {
	return fmt.Sprintf("HeartbeatAck{term: %d, success: %v}",
		msg.Term, msg.Success)
}

func EncodeMsg(msg Msg) ([]byte, error) {
	value := struct {
		Type  string `json:"type"`
		Value Msg    `json:"value"`
	}{
		Type:  msg.GetType(),
		Value: msg,
	}

	return json.Marshal(value)
}

func DecodeMsg(data []byte) (Msg, error) {
	var value struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	}

	if err := json.Unmarshal(data, &value); err != nil {
		return nil, err
	}

	var msg Msg

	switch value.Type {
	case "voteRequest":
		msg = &MsgVoteRequest{}

	case "voteResponse":
		msg = &MsgVoteResponse{}

	case "heartbeat":
		msg = &MsgHeartbeat{}

	case "heartbeatAck":
		msg = &MsgHeartbeatAck{}

	default:
		return nil, fmt.Errorf("unknown message type %q", value.Type)
	}

	if err := json.Unmarshal(value.Value, &msg); err != nil {
		return nil, err
	}

	return msg, nil
}
