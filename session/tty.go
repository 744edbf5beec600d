//go:build unix

package session

import (
	"context"
	"os"
	"time"

	"github.com/pion/logging"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

// WSL sessions are not sent a SIGHUP when their terminal goes away,
// and talking to the Win32 helper from an orphaned session would
// hang. The watcher polls the controlling terminal instead and
// reports once when it is gone.

// HasTTY reports whether the process was started with a terminal
// attached. Without one there is nothing to watch.
func HasTTY() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// WatchTTY polls the controlling terminal every interval and delivers
// exactly one value when it has disappeared. The goroutine stops on
// ctx cancellation.
func WatchTTY(ctx context.Context, interval time.Duration, loggerFactory logging.LoggerFactory) <-chan struct{} {
	log := loggerFactory.NewLogger("session")
	gone := make(chan struct{}, 1)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ttyGone(log) {
					gone <- struct{}{}
					return
				}
			}
		}
	}()

	return gone
}

func ttyGone(log logging.LeveledLogger) bool {
	fd, err := unix.Open("/dev/tty", unix.O_RDONLY, 0)
	if err == nil {
		unix.Close(fd)
		return false
	}

	if err == unix.ENXIO || err == unix.ENOTTY {
		return true
	}

	log.Errorf("checking controlling terminal failed: %v", err)
	return false
}
