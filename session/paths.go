//go:build unix

// Package session owns the process-global resources of the WSL side:
// the listening socket path and its temporary directory, the shell
// environment output, and the controlling-terminal liveness watch.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/pion/logging"
	"golang.org/x/sys/unix"
)

// Session holds the filesystem resources backing the listening
// socket. Cleanup is idempotent and safe on every exit path.
type Session struct {
	SocketPath string
	Listener   net.Listener

	tempDir     string
	cleanupOnce sync.Once
	log         logging.LeveledLogger
}

// Create binds the agent socket. With an empty socketPath a private
// temporary directory is created and the socket is named agent.<pid>
// inside it, following the ssh-agent convention.
func Create(socketPath string, loggerFactory logging.LoggerFactory) (*Session, error) {
	s := &Session{
		log: loggerFactory.NewLogger("session"),
	}

	if socketPath == "" {
		tempDir, err := os.MkdirTemp("", "ssh-")
		if err != nil {
			return nil, fmt.Errorf("can't create socket directory: %w", err)
		}
		s.tempDir = tempDir
		socketPath = filepath.Join(tempDir, fmt.Sprintf("agent.%d", os.Getpid()))
	}

	listener, err := listenRestricted(socketPath)
	if err != nil {
		s.Cleanup()
		return nil, err
	}

	s.SocketPath = socketPath
	s.Listener = listener
	return s, nil
}

// Adopt wraps an already bound listener inherited from the parent
// process in daemon mode, so the child still cleans the paths up.
func Adopt(socketPath string, tempDir string, listener net.Listener, loggerFactory logging.LoggerFactory) *Session {
	return &Session{
		SocketPath: socketPath,
		Listener:   listener,
		tempDir:    tempDir,
		log:        loggerFactory.NewLogger("session"),
	}
}

// TempDir returns the private directory holding the socket, or ""
// when the socket path was user-supplied.
func (s *Session) TempDir() string {
	return s.tempDir
}

// Cleanup closes the listener and removes the socket path and its
// directory. Removing an already removed path is not an error.
func (s *Session) Cleanup() {
	s.cleanupOnce.Do(func() {
		if s.Listener != nil {
			s.Listener.Close()
		}
		if s.SocketPath != "" {
			if err := os.Remove(s.SocketPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.log.Errorf("can't remove socket %s: %v", s.SocketPath, err)
			}
		}
		if s.tempDir != "" {
			if err := os.Remove(s.tempDir); err != nil && !errors.Is(err, fs.ErrNotExist) {
				s.log.Errorf("can't remove directory %s: %v", s.tempDir, err)
			}
		}
	})
}

// listenRestricted binds a unix socket that only the owning user can
// reach, shrinking the umask for the duration of the bind.
func listenRestricted(socketPath string) (net.Listener, error) {
	oldMask := unix.Umask(0077)
	listener, err := net.Listen("unix", socketPath)
	unix.Umask(oldMask)

	if err != nil {
		return nil, fmt.Errorf("can't listen on %s: %w", socketPath, err)
	}
	return listener, nil
}

// ReuseSocketPath probes socketPath for a live agent socket. It
// reports true when something is already accepting connections there.
// A stale socket file is removed so the caller can bind a fresh one;
// a path occupied by anything that is not a socket is an error.
func ReuseSocketPath(socketPath string) (bool, error) {
	if socketPath == "" {
		return false, nil
	}

	conn, err := net.Dial("unix", socketPath)
	if err == nil {
		conn.Close()
		return true, nil
	}

	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		if !pathIsSocket(socketPath) {
			return false, fmt.Errorf("%s exists and is not a socket", socketPath)
		}
		if err := os.Remove(socketPath); err != nil {
			return false, fmt.Errorf("can't remove stale socket %s: %w", socketPath, err)
		}
		return false, nil
	}

	return false, fmt.Errorf("can't probe %s: %w", socketPath, err)
}

func pathIsSocket(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().Type() == fs.ModeSocket
}
