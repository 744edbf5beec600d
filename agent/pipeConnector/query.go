// Package pipeConnector implements the Win32 side of the bridge: it
// reads framed agent requests from stdin, forwards them to the
// openssh-portable ssh-agent service over its named pipe, and writes
// the replies back to stdout.
package pipeConnector

import (
	"errors"
	"net"
	"time"

	"github.com/pion/logging"

	"github.com/wslkit/wsl-agent-relay/agent"
)

// ErrAgentBusy marks a dial attempt that failed only because every
// pipe instance was in use. Dial functions wrap their transport's
// busy condition with it.
var ErrAgentBusy = errors.New("all agent pipe instances are busy")

const defaultRetryInterval = 1 * time.Second

type DialFunction func() (net.Conn, error)

type Connector struct {
	dial          DialFunction
	retryInterval time.Duration
	log           logging.LeveledLogger
}

func NewConnector(dial DialFunction, loggerFactory logging.LoggerFactory) *Connector {
	return &Connector{
		dial:          dial,
		retryInterval: defaultRetryInterval,
		log:           loggerFactory.NewLogger("pipeConnector"),
	}
}

// Query performs one exchange with the agent service. It never fails
// from the caller's point of view: any channel error is translated
// into the protocol's own failure reply so the WSL side always gets a
// well-formed message to forward.
func (c *Connector) Query(request []byte) []byte {
	var conn net.Conn

	for {
		var err error
		conn, err = c.dial()
		if err == nil {
			break
		}

		if errors.Is(err, ErrAgentBusy) {
			c.log.Debugf("agent pipe busy, retrying: %v", err)
			time.Sleep(c.retryInterval)
			continue
		}

		c.log.Errorf("can't open agent pipe: %v", err)
		return agent.AGENT_MESSAGE_ERROR_REPLY.Data
	}

	defer conn.Close()

	c.log.Debugf("connected to the agent pipe")

	if _, err := conn.Write(request); err != nil {
		c.log.Errorf("can't write to agent pipe: %v", err)
		return agent.AGENT_MESSAGE_ERROR_REPLY.Data
	}

	buf := make([]byte, agent.MAX_AGENT_MESSAGE_SIZE)
	n, err := agent.ReadAgentMessage(conn, buf)
	if err != nil {
		c.log.Errorf("can't read from agent pipe: %v", err)
		return agent.AGENT_MESSAGE_ERROR_REPLY.Data
	}

	return buf[:n]
}
