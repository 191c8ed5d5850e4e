// Package cmdutil normalizes a stage's declared command (string or list
// form) into the single resolved string the run-hash is computed from,
// and builds the *exec.Cmd used to actually spawn it.
package cmdutil

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// NormalizeCommand implements the Open Question (a) decision recorded in
// SPEC_FULL.md §6: a string is returned unchanged, and a list form
// ([]string or a YAML []any of strings) is joined with single spaces.
// Either way the returned string is what every other part of the engine
// treats as "the command", and ShellCommandBuilder runs it through the
// platform shell.
func NormalizeCommand(cmd any) (string, error) {
	switch v := cmd.(type) {
	case string:
		return v, nil
	case []string:
		return strings.Join(v, " "), nil
	case []any:
		parts := make([]string, 0, len(v))
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return "", fmt.Errorf("cmdutil: command list element %v is not a string", e)
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, " "), nil
	default:
		return "", fmt.Errorf("cmdutil: unsupported command type %T", cmd)
	}
}

// ShellCommandBuilder builds an *exec.Cmd for a resolved command string,
// choosing the platform's default shell unless ShellCommand is set
// explicitly.
type ShellCommandBuilder struct {
	ShellCommand string
	Command      string
	Dir          string
	Env          []string
}

// Build constructs the exec.Cmd, matching the shell-invocation-flag
// conventions the teacher's own executor uses per shell.
func (b ShellCommandBuilder) Build(ctx context.Context) (*exec.Cmd, error) {
	if b.Command == "" {
		return nil, fmt.Errorf("cmdutil: empty command")
	}

	shell := b.ShellCommand
	if shell == "" {
		shell = defaultShell()
	}

	var cmd *exec.Cmd
	switch {
	case strings.HasSuffix(shell, "cmd.exe"):
		cmd = exec.CommandContext(ctx, shell, "/c", b.Command)
	case strings.Contains(shell, "powershell"):
		cmd = exec.CommandContext(ctx, shell, "-Command", b.Command)
	default:
		cmd = exec.CommandContext(ctx, shell, "-c", b.Command)
	}

	cmd.Dir = b.Dir
	if len(b.Env) > 0 {
		cmd.Env = append(os.Environ(), b.Env...)
	}
	return cmd, nil
}

func defaultShell() string {
	if runtime.GOOS == "windows" {
		return "cmd.exe"
	}
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	return "/bin/sh"
}
