package helper

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

type launchFunc func(path string, childArg string, spawnDir string) (*process, error)

// process is the handle to one running pipe connector: its pid and
// the two byte streams bound to the child's stdin and stdout.
type process struct {
	pid    int
	stdin  io.WriteCloser
	stdout io.ReadCloser

	signalTerm func()
	wait       func() error
}

func (p *process) close() {
	p.stdin.Close()
	p.stdout.Close()
}

// launchHelper starts the connector with its stdin/stdout bound to
// fresh pipes. The child starts in spawnDir when that directory
// exists, so the Win32 side sees a filesystem it can translate.
func launchHelper(path string, childArg string, spawnDir string) (*process, error) {
	cmd := exec.Command(path, childArg)
	cmd.Stderr = os.Stderr

	if spawnDir != "" {
		if info, err := os.Stat(spawnDir); err == nil && info.IsDir() {
			cmd.Dir = spawnDir
		}
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	return &process{
		pid:    cmd.Process.Pid,
		stdin:  stdin,
		stdout: stdout,
		signalTerm: func() {
			cmd.Process.Signal(syscall.SIGTERM)
		},
		wait: cmd.Wait,
	}, nil
}
