// Package sideeffect provides the one-shot hooks a phase can run instead of
// an HTTP request: shell commands, HTTP callbacks and Redis publishes.
package sideeffect

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wesleyorama2/ldload/internal/loadtest"
)

// maxOutputInError bounds how much command output is quoted in an error.
const maxOutputInError = 512

// Command runs a shell command through sh -c. A non-zero exit status is an
// error. The process is killed when ctx is done.
type Command struct {
	command string
	logger  *zap.Logger
}

// NewCommand creates a command hook.
func NewCommand(command string, logger *zap.Logger) *Command {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Command{command: command, logger: logger}
}

// String returns the command line.
func (c *Command) String() string {
	return c.command
}

// Execute runs the command and waits for it to exit.
func (c *Command) Execute(ctx context.Context) error {
	if strings.TrimSpace(c.command) == "" {
		return errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", c.command)
	// Children holding the output pipe open must not outlive the kill.
	cmd.WaitDelay = time.Second

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	c.logger.Debug("command finished",
		zap.String("command", c.command),
		zap.Duration("duration", time.Since(start)),
		zap.ByteString("output", out.Bytes()),
		zap.Error(err))

	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("command %q: %w", c.command, ctxErr)
	}
	if tail := outputTail(out.Bytes()); tail != "" {
		return fmt.Errorf("command %q: %w: %s", c.command, err, tail)
	}
	return fmt.Errorf("command %q: %w", c.command, err)
}

func outputTail(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxOutputInError {
		s = "..." + s[len(s)-maxOutputInError:]
	}
	return s
}

var _ loadtest.SideEffect = (*Command)(nil)
