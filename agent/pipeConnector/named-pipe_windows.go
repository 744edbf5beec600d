package pipeConnector

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// AgentPipePath is the well-known pipe of the Windows OpenSSH agent
// service.
const AgentPipePath = `\\.\pipe\openssh-ssh-agent`

var dialTimeout = 1 * time.Second

// DialAgentPipe connects to the ssh-agent service pipe. A dial that
// times out while every instance is busy is reported as ErrAgentBusy
// so Query keeps retrying it.
func DialAgentPipe() (net.Conn, error) {
	timeout := dialTimeout
	conn, err := winio.DialPipe(AgentPipePath, &timeout)

	if errors.Is(err, winio.ErrTimeout) {
		err = fmt.Errorf("%s: %w", AgentPipePath, ErrAgentBusy)
	} else if err != nil {
		err = fmt.Errorf("can't connect to %s: %w", AgentPipePath, err)
	}

	return conn, err
}
