package util

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// CommandRunner abstracts execution of external tools (ffmpeg, adb)
type CommandRunner interface {
	Run(ctx context.Context, binary string, args []string) ([]byte, error)
}

// ExecRunner runs commands with os/exec. Stdout is returned; on failure the
// error carries the trimmed stderr.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, binary string, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return out, fmt.Errorf("%s %s: %w", binary, firstArg(args), ctxErr)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(string(out))
		}
		if msg != "" {
			return out, fmt.Errorf("%s %s: %w: %s", binary, firstArg(args), err, msg)
		}
		return out, fmt.Errorf("%s %s: %w", binary, firstArg(args), err)
	}
	return out, nil
}

// LookPath reports the resolved path of binary, for diagnostics
func LookPath(binary string) (string, error) {
	return exec.LookPath(binary)
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
