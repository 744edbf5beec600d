package pipeConnector

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wslkit/wsl-agent-relay/agent"
)

// fakeAgentConn answers one framed request with reply on the far end
// of a net.Pipe, like one accepted pipe instance of the agent service.
func fakeAgentConn(reply []byte) net.Conn {
	local, remote := net.Pipe()

	go func() {
		defer remote.Close()

		buf := make([]byte, agent.MAX_AGENT_MESSAGE_SIZE)
		if _, err := agent.ReadAgentMessage(remote, buf); err != nil {
			return
		}
		remote.Write(reply)
	}()

	return local
}

func newTestConnector(dial DialFunction) *Connector {
	c := NewConnector(dial, logging.NewDefaultLoggerFactory())
	c.retryInterval = time.Millisecond
	return c
}

func TestQuery(t *testing.T) {
	reply := agent.EncodeMessage([]byte{0x0c})
	c := newTestConnector(func() (net.Conn, error) {
		return fakeAgentConn(reply), nil
	})

	assert.Equal(t, reply, c.Query(agent.EncodeMessage([]byte{0x0b})))
}

func TestQueryRetriesWhileBusy(t *testing.T) {
	reply := agent.EncodeMessage([]byte{0x0c})

	// busy three times, then a pipe instance frees up
	attempts := 0
	c := newTestConnector(func() (net.Conn, error) {
		attempts++
		if attempts <= 3 {
			return nil, ErrAgentBusy
		}
		return fakeAgentConn(reply), nil
	})

	assert.Equal(t, reply, c.Query(agent.EncodeMessage([]byte{0x0b})))
	assert.Equal(t, 4, attempts)
}

func TestQueryMapsOpenFailureToErrorReply(t *testing.T) {
	c := newTestConnector(func() (net.Conn, error) {
		return nil, errors.New("access denied")
	})

	assert.Equal(t, agent.AGENT_MESSAGE_ERROR_REPLY.Data, c.Query(agent.EncodeMessage([]byte{0x0b})))
}

func TestQueryMapsBrokenExchangeToErrorReply(t *testing.T) {
	c := newTestConnector(func() (net.Conn, error) {
		local, remote := net.Pipe()
		remote.Close()
		return local, nil
	})

	assert.Equal(t, agent.AGENT_MESSAGE_ERROR_REPLY.Data, c.Query(agent.EncodeMessage([]byte{0x0b})))
}

func TestQueryMapsTruncatedReplyToErrorReply(t *testing.T) {
	c := newTestConnector(func() (net.Conn, error) {
		local, remote := net.Pipe()
		go func() {
			buf := make([]byte, agent.MAX_AGENT_MESSAGE_SIZE)
			agent.ReadAgentMessage(remote, buf)
			remote.Write([]byte{0x00, 0x00})
			remote.Close()
		}()
		return local, nil
	})

	assert.Equal(t, agent.AGENT_MESSAGE_ERROR_REPLY.Data, c.Query(agent.EncodeMessage([]byte{0x0b})))
}

func TestQueryNeverReturnsAnInvalidFrame(t *testing.T) {
	replies := [][]byte{
		agent.EncodeMessage([]byte{0x0c, 0x01, 0x02}),
		agent.AGENT_MESSAGE_ERROR_REPLY.Data,
	}

	// whatever the transport does, the caller gets a well-formed
	// message it can forward verbatim
	for _, reply := range replies {
		c := newTestConnector(func() (net.Conn, error) {
			return fakeAgentConn(reply), nil
		})

		got := c.Query(agent.EncodeMessage([]byte{0x0b}))
		require.GreaterOrEqual(t, len(got), 4)
		assert.Equal(t, len(got), agent.MessageLength(got))
	}
}
