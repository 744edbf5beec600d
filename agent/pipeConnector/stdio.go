package pipeConnector

import (
	"errors"
	"fmt"
	"io"

	"github.com/wslkit/wsl-agent-relay/agent"
)

// Run writes the startup handshake byte and then relays framed
// requests from r to the agent service and replies back to w, one
// exchange at a time. It returns nil when r reaches end of file
// between messages, which is how the WSL parent tells the connector
// to go away.
func (c *Connector) Run(r io.Reader, w io.Writer) error {
	if _, err := w.Write([]byte{agent.HandshakeByte}); err != nil {
		return fmt.Errorf("can't write handshake byte: %w", err)
	}

	buf := make([]byte, agent.MAX_AGENT_MESSAGE_SIZE)

	for {
		n, err := agent.ReadAgentMessage(r, buf)
		if errors.Is(err, io.EOF) {
			c.log.Debugf("stdin closed, exiting")
			return nil
		}
		if err != nil {
			return fmt.Errorf("can't read request: %w", err)
		}

		c.log.Debugf("query with %d bytes", n)

		reply := c.Query(buf[:n])
		if _, err := w.Write(reply); err != nil {
			return fmt.Errorf("can't write reply: %w", err)
		}
	}
}
