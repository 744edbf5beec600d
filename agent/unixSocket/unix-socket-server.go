// Package unixSocket accepts ssh-agent clients on a unix domain
// socket and funnels their framed requests into the single query
// channel consumed by the helper supervisor.
package unixSocket

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/pion/logging"

	"github.com/wslkit/wsl-agent-relay/agent"
)

// Serve accepts connections on listener until ctx is done or the
// listener fails. Each connection runs a strictly sequential
// receive/relay/send cycle; a connection never has more than one
// request outstanding. queryChannel is shared by all connections and
// has exactly one consumer, so relays are first-complete-first-served
// across connections.
func Serve(ctx context.Context, listener net.Listener, queryChannel chan<- agent.AgentMessageQuery, loggerFactory logging.LoggerFactory) error {
	log := loggerFactory.NewLogger("unixSocket")

	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if errors.Is(err, net.ErrClosed) {
			// intentional closing of the listening socket
			return nil
		} else if err != nil {
			// Running out of file descriptors must not kill the
			// server; shed the connection attempt and carry on.
			if isTemporaryAcceptError(err) {
				log.Errorf("accept: %v", err)
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return err
		}

		go handleConnection(conn, queryChannel, log)
	}
}

func isTemporaryAcceptError(err error) bool {
	return errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ECONNABORTED)
}

// handleConnection owns conn exclusively. Any read/write error, a
// desynchronized or oversized frame, or a failed relay destroys the
// connection; the reply channel is created once and reused for every
// cycle.
func handleConnection(conn net.Conn, queryChannel chan<- agent.AgentMessageQuery, log logging.LeveledLogger) {
	defer conn.Close()

	log.Debugf("client connected [%s]", conn.RemoteAddr().Network())

	replyChannel := make(chan agent.AgentMessageReply)
	buf := make([]byte, agent.MAX_AGENT_MESSAGE_SIZE)

	for {
		n, err := agent.ReadAgentMessage(conn, buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debugf("read error: %v", err)
			}
			break
		}

		log.Debugf("read %d bytes", n)

		queryChannel <- agent.AgentMessageQuery{Data: buf[:n], ReplyChannel: replyChannel}
		reply := <-replyChannel
		if reply.Err != nil {
			log.Errorf("query failed: %v", reply.Err)
			break
		}

		log.Debugf("write %d bytes", len(reply.Data))

		if _, err := conn.Write(reply.Data); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debugf("write error: %v", err)
			}
			break
		}
	}

	log.Debugf("client disconnected")
}
