package pipeConnector

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wslkit/wsl-agent-relay/agent"
)

func TestRun(t *testing.T) {
	reply := agent.EncodeMessage([]byte{0x0c})
	c := newTestConnector(func() (net.Conn, error) {
		return fakeAgentConn(reply), nil
	})

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()

	done := make(chan error, 1)
	go func() {
		done <- c.Run(stdinR, stdoutW)
	}()

	// the handshake byte comes first, before any request is answered
	init := make([]byte, 1)
	_, err := io.ReadFull(stdoutR, init)
	require.NoError(t, err)
	assert.Equal(t, agent.HandshakeByte, init[0])

	_, err = stdinW.Write(agent.EncodeMessage([]byte{0x0b}))
	require.NoError(t, err)

	buf := make([]byte, agent.MAX_AGENT_MESSAGE_SIZE)
	n, err := agent.ReadAgentMessage(stdoutR, buf)
	require.NoError(t, err)
	assert.Equal(t, reply, buf[:n])

	// closing stdin between messages shuts the connector down cleanly
	stdinW.Close()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on stdin close")
	}
}

func TestRunFailsOnTruncatedRequest(t *testing.T) {
	c := newTestConnector(func() (net.Conn, error) {
		t.Fatal("a truncated request must not reach the agent")
		return nil, nil
	})

	stdinR, stdinW := io.Pipe()
	stdoutR, stdoutW := io.Pipe()
	go io.Copy(io.Discard, stdoutR)

	done := make(chan error, 1)
	go func() {
		done <- c.Run(stdinR, stdoutW)
	}()

	_, err := stdinW.Write([]byte{0x00, 0x00, 0x00, 0x02, 0x0b})
	require.NoError(t, err)
	stdinW.Close()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on truncated request")
	}
}
