package applescript

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/daybridge/daybridge/internal/adapter"
)

// runner executes an AppleScript and returns its combined output.
// Abstracted so tests can substitute canned output.
type runner interface {
	Run(ctx context.Context, script string) (string, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, script string) (string, error) {
	cmd := exec.CommandContext(ctx, "osascript", "-e", script)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return string(output), fmt.Errorf("osascript failed: %w\n%s", err, string(output))
	}
	return string(output), nil
}

// classify maps an osascript failure onto the adapter error taxonomy.
// The bridge reports failures as text, so classification is by message.
func classify(op, output string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &adapter.TransientError{Op: op, Err: err}
	}

	msg := strings.ToLower(output + " " + err.Error())
	switch {
	case strings.Contains(msg, "apple event timed out"),
		strings.Contains(msg, "timed out"),
		strings.Contains(msg, "busy"),
		strings.Contains(msg, "connection is invalid"),
		strings.Contains(msg, "application isn't running"):
		return &adapter.TransientError{Op: op, Err: err}
	case strings.Contains(msg, "can't get") && strings.Contains(msg, "id"),
		strings.Contains(msg, "invalid id"),
		strings.Contains(msg, "doesn't exist"):
		return &adapter.NotFoundError{ExternalID: extractID(output)}
	case strings.Contains(msg, "not allowed"),
		strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "syntax error"),
		strings.Contains(msg, "access for assistive devices"):
		return &adapter.PermanentError{Op: op, Err: err}
	}
	// Unknown chatter from the bridge: assume transient, the retry cap
	// bounds the damage.
	return &adapter.TransientError{Op: op, Err: err}
}

func extractID(output string) string {
	// Errors quote the offending id when present: ... id "ABC-123" ...
	if i := strings.Index(output, `id "`); i >= 0 {
		rest := output[i+4:]
		if j := strings.Index(rest, `"`); j >= 0 {
			return rest[:j]
		}
	}
	return ""
}
