package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellQuote(t *testing.T) {
	assert.Equal(t, "'/tmp/ssh-abc/agent.1'", ShellQuote("/tmp/ssh-abc/agent.1"))
	assert.Equal(t, `'it'\''s'`, ShellQuote("it's"))
	assert.Equal(t, "''", ShellQuote(""))
}

func TestParseShellName(t *testing.T) {
	for name, want := range map[string]ShellType{
		"sh":     ShellBourne,
		"bourne": ShellBourne,
		"CSH":    ShellCSh,
		"fish":   ShellFish,
	} {
		got, err := ParseShellName(name)
		require.NoError(t, err)
		assert.Equal(t, want, got, name)
	}

	_, err := ParseShellName("powershell")
	assert.Error(t, err)
}

func TestGuessShell(t *testing.T) {
	t.Setenv("SHELL", "/bin/tcsh")
	assert.Equal(t, ShellCSh, GuessShell())

	t.Setenv("SHELL", "/usr/bin/fish")
	assert.Equal(t, ShellFish, GuessShell())

	t.Setenv("SHELL", "/bin/bash")
	assert.Equal(t, ShellBourne, GuessShell())

	t.Setenv("SHELL", "")
	assert.Equal(t, ShellBourne, GuessShell())
}

func TestWriteSetEnv(t *testing.T) {
	var out strings.Builder
	WriteSetEnv(&out, ShellBourne, "/tmp/ssh-abc/agent.1", 1234, true)
	assert.Equal(t,
		"SSH_AUTH_SOCK='/tmp/ssh-abc/agent.1'; export SSH_AUTH_SOCK;\n"+
			"SSH_AGENT_PID=1234; export SSH_AGENT_PID;\n",
		out.String())

	out.Reset()
	WriteSetEnv(&out, ShellCSh, "/tmp/sock", 1234, false)
	assert.Equal(t, "setenv SSH_AUTH_SOCK '/tmp/sock';\n", out.String())

	out.Reset()
	WriteSetEnv(&out, ShellFish, "/tmp/sock", 1234, true)
	assert.Equal(t,
		"set -x SSH_AUTH_SOCK '/tmp/sock';\n"+
			"set -x SSH_AGENT_PID 1234;\n",
		out.String())
}

func TestWriteUnsetEnv(t *testing.T) {
	var out strings.Builder
	WriteUnsetEnv(&out, ShellBourne)
	assert.Equal(t, "unset SSH_AUTH_SOCK;\nunset SSH_AGENT_PID;\n", out.String())

	out.Reset()
	WriteUnsetEnv(&out, ShellCSh)
	assert.Equal(t, "unsetenv SSH_AUTH_SOCK;\nunsetenv SSH_AGENT_PID;\n", out.String())

	out.Reset()
	WriteUnsetEnv(&out, ShellFish)
	assert.Equal(t, "set -e SSH_AUTH_SOCK;\nset -e SSH_AGENT_PID;\n", out.String())
}
