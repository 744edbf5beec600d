//go:build windows

package main

import (
	"os"

	"github.com/pion/logging"

	"github.com/wslkit/wsl-agent-relay/agent"
	"github.com/wslkit/wsl-agent-relay/agent/pipeConnector"
)

// The connector is spawned by the WSL side with a single fixed-width
// decimal flag word as its argument. It speaks the framed agent
// protocol on stdin/stdout and must never exit nonzero because the
// agent service is unhappy; those failures travel inside the protocol.
func main() {
	var flags uint32
	if len(os.Args) > 1 {
		if parsed, err := agent.ParseChildFlags(os.Args[1]); err == nil {
			flags = parsed
		}
	}

	loggerFactory := logging.NewDefaultLoggerFactory()
	loggerFactory.Writer = os.Stderr
	loggerFactory.DefaultLogLevel = logging.LogLevelError
	if flags&agent.ChildFlagDebug != 0 {
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	}

	connector := pipeConnector.NewConnector(pipeConnector.DialAgentPipe, loggerFactory)
	if err := connector.Run(os.Stdin, os.Stdout); err != nil {
		loggerFactory.NewLogger("main").Errorf("%v", err)
		os.Exit(1)
	}
}
