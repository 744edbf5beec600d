// Package helper supervises the Win32 pipe connector subprocess: lazy start with a
// handshake, one framed request/reply exchange per relay, and a single
// restart attempt when the connector is found dead before any request
// byte was written.
package helper

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"syscall"

	"github.com/pion/logging"

	"github.com/wslkit/wsl-agent-relay/agent"
)

var (
	// ErrSpawnFailed means the pipe connector could not be started or
	// did not complete its startup handshake.
	ErrSpawnFailed = errors.New("can't start the pipe connector")

	// ErrHelperUnavailable means the pipe connector went away while a
	// query was in flight and the query could not be completed.
	ErrHelperUnavailable = errors.New("pipe connector unavailable")
)

// FatalError wraps conditions after which the whole process must shut
// down, as opposed to relay errors that only cost one client
// connection.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal pipe connector error: %v", e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

type Config struct {
	// HelperPath is the pipe connector executable.
	HelperPath string

	// SpawnDir is a working directory reachable from the Win32 side,
	// used only while the connector starts. Ignored when it does not
	// exist (for example outside WSL).
	SpawnDir string

	// Debug is forwarded to the connector through its flag word.
	Debug bool

	LoggerFactory logging.LoggerFactory

	// launch overrides subprocess creation in tests.
	launch launchFunc
}

// Supervisor owns the single pipe connector process handle. It is
// driven from one goroutine only (Serve); relays are serialized by
// construction.
type Supervisor struct {
	helperPath string
	spawnDir   string
	childArg   string
	launch     launchFunc
	proc       *process
	kill       chan struct{}
	log        logging.LeveledLogger
}

func NewSupervisor(config Config) *Supervisor {
	var flags uint32
	if config.Debug {
		flags |= agent.ChildFlagDebug
	}

	launch := config.launch
	if launch == nil {
		launch = launchHelper
	}

	return &Supervisor{
		helperPath: config.HelperPath,
		spawnDir:   config.SpawnDir,
		childArg:   agent.SerializeChildFlags(flags),
		launch:     launch,
		kill:       make(chan struct{}, 1),
		log:        config.LoggerFactory.NewLogger("helper"),
	}
}

// Serve drains queryChannel, relaying one query at a time. It returns
// nil when ctx is cancelled or queryChannel is closed, and the wrapped
// error when a relay failed fatally. The connector is terminated on
// the way out.
func (s *Supervisor) Serve(ctx context.Context, queryChannel <-chan agent.AgentMessageQuery) error {
	defer s.terminate()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-s.kill:
			s.log.Infof("terminating the pipe connector on request")
			s.terminate()

		case query, ok := <-queryChannel:
			if !ok {
				return nil
			}

			reply, err := s.Relay(query.Data)
			query.ReplyChannel <- agent.AgentMessageReply{Data: reply, Err: err}

			var fatal *FatalError
			if errors.As(err, &fatal) {
				return err
			}
		}
	}
}

// KillHelper asks Serve to terminate the current connector process.
// The next relay will start a fresh one.
func (s *Supervisor) KillHelper() {
	select {
	case s.kill <- struct{}{}:
	default:
	}
}

// Relay performs one request/reply exchange with the pipe connector,
// starting it first if needed.
func (s *Supervisor) Relay(request []byte) ([]byte, error) {
	restarted := false

	for {
		if err := s.ensureStarted(); err != nil {
			return nil, err
		}

		n, err := s.proc.stdin.Write(request)
		if err == nil {
			break
		}

		if n == 0 && isBrokenPipe(err) && !restarted {
			// The connector exited between queries. One restart is
			// safe because none of this request reached it.
			s.log.Infof("pipe connector had exited, trying to restart")
			s.teardown(true)
			restarted = true
			continue
		}

		if isBrokenPipe(err) {
			s.teardown(true)
			return nil, fmt.Errorf("pipe connector exited during query (write): %w", ErrHelperUnavailable)
		}

		return nil, &FatalError{fmt.Errorf("write to pipe connector: %w", err)}
	}

	// A connector dying mid-reply is not retried: the request cannot
	// be safely resent once any byte of it was consumed.
	header := make([]byte, 4)
	if _, err := io.ReadFull(s.proc.stdout, header); err != nil {
		s.log.Errorf("pipe connector exited during query (read length): %v", err)
		s.teardown(true)
		return nil, fmt.Errorf("pipe connector exited during query (read): %w", ErrHelperUnavailable)
	}

	messageSize := int(binary.BigEndian.Uint32(header)) + 4
	if messageSize > agent.MAX_AGENT_MESSAGE_SIZE {
		s.log.Errorf("pipe connector tried to return %d bytes", messageSize)
		s.teardown(true)
		return nil, fmt.Errorf("pipe connector returned an oversized reply: %w", ErrHelperUnavailable)
	}

	reply := make([]byte, messageSize)
	copy(reply, header)
	if _, err := io.ReadFull(s.proc.stdout, reply[4:]); err != nil {
		s.log.Errorf("pipe connector exited during query (read body): %v", err)
		s.teardown(true)
		return nil, fmt.Errorf("pipe connector exited during query (read): %w", ErrHelperUnavailable)
	}

	return reply, nil
}

// ensureStarted spawns the connector and verifies its handshake byte.
func (s *Supervisor) ensureStarted() error {
	if s.proc != nil {
		return nil
	}

	proc, err := s.launch(s.helperPath, s.childArg, s.spawnDir)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrSpawnFailed, s.helperPath, err)
	}

	init := make([]byte, 1)
	if _, err := io.ReadFull(proc.stdout, init); err != nil {
		proc.close()
		proc.wait()
		return fmt.Errorf("%w: it died before the handshake: %v", ErrSpawnFailed, err)
	}
	if init[0] != agent.HandshakeByte {
		proc.close()
		proc.wait()
		return fmt.Errorf("%w: unexpected handshake byte %#x", ErrSpawnFailed, init[0])
	}

	s.log.Debugf("pipe connector started with pid %d", proc.pid)
	s.proc = proc
	return nil
}

// teardown drops the current process handle. needWait reaps the child
// when its exit was already observed through the pipes.
func (s *Supervisor) teardown(needWait bool) {
	if s.proc == nil {
		return
	}

	s.proc.close()
	if needWait {
		s.proc.wait()
	}
	s.proc = nil
}

// terminate stops a running connector and reaps it.
func (s *Supervisor) terminate() {
	if s.proc == nil {
		return
	}

	s.proc.signalTerm()
	s.teardown(true)
}

func isBrokenPipe(err error) bool {
	// io.ErrClosedPipe covers the in-process pipes used by tests.
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe)
}
