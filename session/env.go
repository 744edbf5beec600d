//go:build unix

package session

import (
	"fmt"
	"io"
	"os"
	"strings"
)

// ShellType selects the syntax used to emit environment variable
// assignments for eval by the invoking shell.
type ShellType int

const (
	ShellUnknown ShellType = iota
	ShellBourne
	ShellCSh
	ShellFish
)

// GuessShell picks a syntax from $SHELL. Bourne is the fallback, as
// ssh-agent does.
func GuessShell() ShellType {
	shell := os.Getenv("SHELL")

	if strings.Contains(shell, "csh") {
		return ShellCSh
	}
	if strings.Contains(shell, "fish") {
		return ShellFish
	}
	return ShellBourne
}

// ParseShellName maps a -S argument to a ShellType.
func ParseShellName(name string) (ShellType, error) {
	switch strings.ToLower(name) {
	case "fish":
		return ShellFish, nil
	case "csh":
		return ShellCSh, nil
	case "sh", "bourne":
		return ShellBourne, nil
	default:
		return ShellUnknown, fmt.Errorf("unrecognized shell %q", name)
	}
}

// ShellQuote single-quotes s for shell eval, escaping embedded single
// quotes the portable way.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// WriteSetEnv emits the SSH_AUTH_SOCK (and optionally SSH_AGENT_PID)
// assignments in the requested shell syntax.
func WriteSetEnv(w io.Writer, sh ShellType, socketPath string, pid int, setPidEnv bool) {
	quoted := ShellQuote(socketPath)

	switch sh {
	case ShellCSh:
		fmt.Fprintf(w, "setenv SSH_AUTH_SOCK %s;\n", quoted)
		if setPidEnv {
			fmt.Fprintf(w, "setenv SSH_AGENT_PID %d;\n", pid)
		}
	case ShellFish:
		fmt.Fprintf(w, "set -x SSH_AUTH_SOCK %s;\n", quoted)
		if setPidEnv {
			fmt.Fprintf(w, "set -x SSH_AGENT_PID %d;\n", pid)
		}
	default:
		fmt.Fprintf(w, "SSH_AUTH_SOCK=%s; export SSH_AUTH_SOCK;\n", quoted)
		if setPidEnv {
			fmt.Fprintf(w, "SSH_AGENT_PID=%d; export SSH_AGENT_PID;\n", pid)
		}
	}
}

// WriteUnsetEnv emits the matching unset lines, used by kill mode.
func WriteUnsetEnv(w io.Writer, sh ShellType) {
	switch sh {
	case ShellCSh:
		fmt.Fprintf(w, "unsetenv SSH_AUTH_SOCK;\n")
		fmt.Fprintf(w, "unsetenv SSH_AGENT_PID;\n")
	case ShellFish:
		fmt.Fprintf(w, "set -e SSH_AUTH_SOCK;\n")
		fmt.Fprintf(w, "set -e SSH_AGENT_PID;\n")
	default:
		fmt.Fprintf(w, "unset SSH_AUTH_SOCK;\n")
		fmt.Fprintf(w, "unset SSH_AGENT_PID;\n")
	}
}
