package binding

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"time"
)

// TriggerSink delivers a fired trigger to the external automation
// program. Calls are synchronous and fire-and-forget: the engine only
// needs to know whether the invocation could start.
type TriggerSink interface {
	Trigger(kind TriggerKind, title string) error
}

// DefaultSinkCommand is the automation program invoked for triggers.
const DefaultSinkCommand = "autokey-run"

// ExecSink invokes the automation program as a child process with a
// mode flag and a title. Output is discarded and the exit status is not
// surfaced; only a failure to start is reported. An optional timeout
// bounds a hanging sink while keeping firing strictly sequential.
type ExecSink struct {
	Command string
	Timeout time.Duration
}

// NewExecSink creates a sink for the given command. An empty command
// selects DefaultSinkCommand.
func NewExecSink(command string, timeout time.Duration) *ExecSink {
	if command == "" {
		command = DefaultSinkCommand
	}
	return &ExecSink{Command: command, Timeout: timeout}
}

// modeFlag maps a trigger kind to the sink's mode selector.
func modeFlag(kind TriggerKind) (string, error) {
	switch kind {
	case TriggerPhrase:
		return "-p", nil
	case TriggerScript:
		return "-s", nil
	case TriggerFolder:
		return "-f", nil
	default:
		return "", fmt.Errorf("trigger kind %s has no sink mode", kind)
	}
}

// Trigger runs the sink synchronously. The returned error means the
// invocation could not start; a sink that starts and then fails is
// reported as success with an unknown result, matching the sink's
// fire-and-forget contract.
func (s *ExecSink) Trigger(kind TriggerKind, title string) error {
	flag, err := modeFlag(kind)
	if err != nil {
		return err
	}

	ctx := context.Background()
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, s.Command, flag, title)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.Command, err)
	}
	// Exit status deliberately not surfaced.
	_ = cmd.Wait()
	return nil
}
