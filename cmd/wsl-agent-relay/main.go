//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/pion/logging"
	"github.com/spf13/pflag"

	"github.com/wslkit/wsl-agent-relay/agent"
	"github.com/wslkit/wsl-agent-relay/agent/helper"
	"github.com/wslkit/wsl-agent-relay/agent/unixSocket"
	"github.com/wslkit/wsl-agent-relay/session"
)

const version = "1.0.0"

const helperName = "pipe-connector.exe"

// The pipe connector is started from a DrvFs directory so the Win32
// side does not warn about an untranslatable working directory.
// TODO: pick a DrvFs mount from /proc/mounts instead of assuming the
// C: drive is mounted.
const drvFsDir = "/mnt/c"

const ttyCheckInterval = 1 * time.Second

var (
	optHelp       bool
	optVersion    bool
	optCsh        bool
	optBourne     bool
	optShellName  string
	optKill       bool
	optDebug      bool
	optQuiet      bool
	optSocketPath string
	optReuse      bool
	optLifetime   string
	optHelperPath string
	optNoExit     bool

	// internal flags used by the daemonized re-exec
	optForeground bool
	optCleanupDir string
)

func parseFlags() {
	flags := pflag.CommandLine
	flags.SetInterspersed(false)

	flags.BoolVarP(&optHelp, "help", "h", false, "show this help")
	flags.BoolVarP(&optVersion, "version", "v", false, "display version information")
	flags.BoolVarP(&optCsh, "csh", "c", false, "generate C-shell commands on stdout")
	flags.BoolVarP(&optBourne, "sh", "s", false, "generate Bourne shell commands on stdout")
	flags.StringVarP(&optShellName, "shell", "S", "", "generate shell commands for \"bourne\", \"csh\" or \"fish\"")
	flags.BoolVarP(&optKill, "kill", "k", false, "kill the currently running agent")
	flags.BoolVarP(&optDebug, "debug", "d", false, "enable debug logs and stay in the foreground")
	flags.BoolVarP(&optQuiet, "quiet", "q", false, "enable quiet mode")
	flags.StringVarP(&optSocketPath, "address", "a", "", "create the socket on a specific path")
	flags.BoolVarP(&optReuse, "reuse", "r", false, "allow reusing an existing -a SOCKET")
	flags.StringVarP(&optLifetime, "lifetime", "t", "", "limit key lifetime (not supported by the Windows ssh-agent)")
	flags.StringVarP(&optHelperPath, "helper", "H", "", "path to the Win32 pipe connector binary")
	flags.BoolVarP(&optNoExit, "no-exit", "b", false, "do not exit when the terminal closes (Windows 10 1809 and newer)")

	flags.BoolVar(&optForeground, "foreground", false, "")
	flags.StringVar(&optCleanupDir, "cleanup-dir", "", "")
	flags.MarkHidden("foreground")
	flags.MarkHidden("cleanup-dir")

	flags.Usage = func() { usage(os.Stderr) }
	pflag.Parse()
}

func usage(w io.Writer) {
	fmt.Fprintf(w, "Usage: %s [options] [command [arg ...]]\n", filepath.Base(os.Args[0]))
	fmt.Fprintf(w, "Options:\n%s", pflag.CommandLine.FlagUsages())
}

func main() {
	os.Exit(run())
}

func run() int {
	parseFlags()

	if optHelp {
		usage(os.Stdout)
		return 0
	}
	if optVersion {
		fmt.Printf("wsl-agent-relay %s\n", version)
		return 0
	}

	shell := session.GuessShell()
	if optCsh {
		shell = session.ShellCSh
	}
	if optBourne {
		shell = session.ShellBourne
	}
	if optShellName != "" {
		parsed, err := session.ParseShellName(optShellName)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wsl-agent-relay: %v\n", err)
			return 1
		}
		shell = parsed
	}

	loggerFactory := logging.NewDefaultLoggerFactory()
	loggerFactory.Writer = os.Stderr
	loggerFactory.DefaultLogLevel = logging.LogLevelError
	if optDebug {
		loggerFactory.DefaultLogLevel = logging.LogLevelDebug
	}
	log := loggerFactory.NewLogger("main")

	invokedAsSSHAgent := strings.EqualFold(filepath.Base(os.Args[0]), "ssh-agent")

	if optKill {
		return killAgent(shell, invokedAsSSHAgent)
	}

	if optLifetime != "" && !optQuiet {
		fmt.Fprintln(os.Stderr, "wsl-agent-relay: key lifetime is not supported by the Windows ssh-agent, ignoring -t")
	}

	resolveHelperPath()
	if info, err := os.Stat(optHelperPath); err != nil || info.IsDir() {
		fmt.Fprintf(os.Stderr, "wsl-agent-relay: %s is not an executable; use --helper to point at the pipe connector\n", optHelperPath)
		return 1
	}

	socketPathFromEnv := false
	if optReuse && optSocketPath == "" {
		if env := os.Getenv("SSH_AUTH_SOCK"); env != "" {
			optSocketPath = env
			socketPathFromEnv = true
		}
	}

	subArgs := pflag.Args()

	if optReuse && optSocketPath == "" {
		fmt.Fprintln(os.Stderr, "wsl-agent-relay: --reuse needs -a SOCKET or SSH_AUTH_SOCK in the environment")
		return 1
	}

	// The daemonized re-exec inherits an already bound listener; it
	// must not probe its own socket for reuse.
	if optReuse && !optForeground {
		reused, err := session.ReuseSocketPath(optSocketPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wsl-agent-relay: %v\n", err)
			return 1
		}
		if reused {
			// Somebody already serves this socket; just point the
			// environment at it.
			if len(subArgs) > 0 {
				return runSubcommandForeground(subArgs, optSocketPath)
			}
			session.WriteSetEnv(os.Stdout, shell, optSocketPath, 0, false)
			return 0
		}
	}

	var sess *session.Session
	if optForeground {
		listenerFile := os.NewFile(uintptr(3), "agent-socket")
		listener, err := net.FileListener(listenerFile)
		listenerFile.Close()
		if err != nil {
			log.Errorf("can't adopt the listening socket: %v", err)
			return 1
		}
		sess = session.Adopt(optSocketPath, optCleanupDir, listener, loggerFactory)
	} else {
		createPath := optSocketPath
		if socketPathFromEnv {
			// the environment path was only probed for reuse, bind a
			// fresh private one instead
			createPath = ""
		}
		var err error
		sess, err = session.Create(createPath, loggerFactory)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wsl-agent-relay: %v\n", err)
			return 1
		}
	}

	if len(subArgs) > 0 {
		subDone, err := startSubcommand(subArgs, sess.SocketPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wsl-agent-relay: %s: %v\n", subArgs[0], err)
			sess.Cleanup()
			return 1
		}
		return serveAgent(sess, loggerFactory, subDone)
	}

	if !optDebug && !optForeground {
		pid, err := respawnBackground(sess)
		if err != nil {
			fmt.Fprintf(os.Stderr, "wsl-agent-relay: can't go to background: %v\n", err)
			sess.Cleanup()
			return 1
		}
		session.WriteSetEnv(os.Stdout, shell, sess.SocketPath, pid, true)
		echoAgentPid(invokedAsSSHAgent, pid)
		return 0
	}

	if !optForeground {
		// debug mode serves in the foreground but the exports are
		// still printed for eval
		session.WriteSetEnv(os.Stdout, shell, sess.SocketPath, os.Getpid(), true)
		echoAgentPid(invokedAsSSHAgent, os.Getpid())
	}

	return serveAgent(sess, loggerFactory, nil)
}

// serveAgent runs the supervisor and the socket server until a
// signal, a fatal relay error, or subcommand exit. The session is
// cleaned up on every path out.
func serveAgent(sess *session.Session, loggerFactory *logging.DefaultLoggerFactory, subDone <-chan int) int {
	log := loggerFactory.NewLogger("main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer sess.Cleanup()

	queryChannel := make(chan agent.AgentMessageQuery)

	supervisor := helper.NewSupervisor(helper.Config{
		HelperPath:    optHelperPath,
		SpawnDir:      drvFsDir,
		Debug:         optDebug,
		LoggerFactory: loggerFactory,
	})

	supervisorDone := make(chan error, 1)
	go func() {
		supervisorDone <- supervisor.Serve(ctx, queryChannel)
	}()

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- unixSocket.Serve(ctx, sess.Listener, queryChannel, loggerFactory)
	}()

	sigChannel := make(chan os.Signal, 1)
	signal.Notify(sigChannel, syscall.SIGINT, syscall.SIGHUP, syscall.SIGTERM)

	var ttyGone <-chan struct{}
	if session.HasTTY() {
		ttyGone = session.WatchTTY(ctx, ttyCheckInterval, loggerFactory)
	}

	for {
		select {
		case <-sigChannel:
			return 0

		case err := <-supervisorDone:
			if err != nil {
				log.Errorf("%v", err)
				return 1
			}
			return 0

		case err := <-serverDone:
			if err != nil {
				log.Errorf("server failed: %v", err)
				return 1
			}
			return 0

		case <-ttyGone:
			if optNoExit {
				// The terminal went away but we were asked to stay.
				// Drop the connector so its console host can exit;
				// the next query starts a fresh one.
				supervisor.KillHelper()
				continue
			}
			log.Debugf("controlling terminal is gone, exiting")
			return 0

		case status := <-subDone:
			return status
		}
	}
}

// respawnBackground re-executes the binary detached from the process
// group, handing the bound listener over as fd 3. The child cleans up
// the socket paths; the parent only prints the environment.
func respawnBackground(sess *session.Session) (int, error) {
	exe, err := os.Executable()
	if err != nil {
		return 0, err
	}

	listenerFile, err := sess.Listener.(*net.UnixListener).File()
	if err != nil {
		return 0, err
	}
	defer listenerFile.Close()

	args := append([]string{}, os.Args[1:]...)
	args = append(args,
		"--foreground",
		"--cleanup-dir", sess.TempDir(),
		"-a", sess.SocketPath)

	cmd := exec.Command(exe, args...)
	cmd.Stdin = os.Stdin
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{listenerFile}
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return 0, err
	}

	sess.Listener.Close()
	return cmd.Process.Pid, nil
}

func resolveHelperPath() {
	if optHelperPath == "" {
		if exe, err := os.Executable(); err == nil {
			optHelperPath = filepath.Join(filepath.Dir(exe), helperName)
		} else {
			optHelperPath = helperName
		}
		return
	}

	if abs, err := filepath.Abs(optHelperPath); err == nil {
		optHelperPath = abs
	}
}

func killAgent(shell session.ShellType, invokedAsSSHAgent bool) int {
	pidEnv := os.Getenv("SSH_AGENT_PID")
	if pidEnv == "" {
		fmt.Fprintln(os.Stderr, "wsl-agent-relay: SSH_AGENT_PID not set, cannot kill agent")
		return 1
	}

	pid, err := strconv.Atoi(pidEnv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "wsl-agent-relay: bad SSH_AGENT_PID %q\n", pidEnv)
		return 1
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "wsl-agent-relay: kill(%d): %v\n", pid, err)
		return 1
	}

	session.WriteUnsetEnv(os.Stdout, shell)
	if !optQuiet {
		if invokedAsSSHAgent {
			// keep the output compatible with openssh
			fmt.Printf("echo Agent pid %d killed;\n", pid)
		} else {
			fmt.Printf("echo wsl-agent-relay pid %d killed;\n", pid)
		}
	}
	return 0
}

func echoAgentPid(invokedAsSSHAgent bool, pid int) {
	if optQuiet {
		return
	}
	if invokedAsSSHAgent {
		// keep the output compatible with openssh
		fmt.Printf("echo Agent pid %d;\n", pid)
	} else {
		fmt.Printf("echo wsl-agent-relay pid %d;\n", pid)
	}
}

// startSubcommand runs command-wrapper mode: the child sees the agent
// environment and its exit status becomes ours.
func startSubcommand(args []string, socketPath string) (<-chan int, error) {
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(),
		"SSH_AUTH_SOCK="+socketPath,
		fmt.Sprintf("SSH_AGENT_PID=%d", os.Getpid()))

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	done := make(chan int, 1)
	go func() {
		done <- exitStatus(cmd.Wait())
	}()
	return done, nil
}

// runSubcommandForeground is the reused-socket variant: no agent of
// our own, so no SSH_AGENT_PID and no serving loop.
func runSubcommandForeground(args []string, socketPath string) int {
	cmd := exec.Command(args[0], args[1:]...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Env = append(os.Environ(), "SSH_AUTH_SOCK="+socketPath)

	err := cmd.Run()
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		fmt.Fprintf(os.Stderr, "wsl-agent-relay: %s: %v\n", args[0], err)
		return 1
	}
	return exitStatus(err)
}

func exitStatus(err error) int {
	if err == nil {
		return 0
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			return 128 + int(ws.Signal())
		}
		return exitErr.ExitCode()
	}
	return 1
}
