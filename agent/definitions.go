package agent

import "encoding/binary"

// AgentMessageQuery is one fully framed client request on its way to
// the helper supervisor. Exactly one AgentMessageReply is delivered on
// ReplyChannel for each query.
type AgentMessageQuery struct {
	Data         []byte
	ReplyChannel chan AgentMessageReply
}

// AgentMessageReply carries the framed reply, or the relay error that
// should cause the originating connection to be closed.
type AgentMessageReply struct {
	Data []byte
	Err  error
}

const MAX_AGENT_MESSAGE_SIZE = 262144

// HandshakeByte is written once by the pipe connector on its stdout
// after startup, before any relayed message.
const HandshakeByte = byte('a')

// Flag bits passed to the pipe connector as its single argument,
// serialized with SerializeChildFlags.
const (
	ChildFlagDebug uint32 = 1 << 0
)

var AGENT_MESSAGE_ERROR_REPLY = agentMessageErrorReply()

func agentMessageErrorReply() AgentMessageReply {
	const SSH_AGENT_FAILURE = 5

	failure := make([]byte, 5)
	binary.BigEndian.PutUint32(failure, (uint32)(len(failure)-4))
	failure[4] = SSH_AGENT_FAILURE

	return AgentMessageReply{
		Data: failure,
	}
}
