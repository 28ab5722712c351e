package finalize

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"
)

// Executor runs external tools (the strip primitive) with a shared context,
// killing the whole process group when the context is cancelled.
type Executor struct {
	Context context.Context // The context to use for cancellation
	Quiet   bool            // Discard the tool's stderr unless verbose
}

func NewExecutor(ctx context.Context) *Executor {
	return &Executor{Context: ctx, Quiet: !Verbose && !Debug}
}

// Run executes the given command in its own process group.
func (e *Executor) Run(cmd *exec.Cmd) error {
	if cmd.Stdout == nil {
		cmd.Stdout = io.Discard
	}
	if cmd.Stderr == nil {
		if e.Quiet {
			cmd.Stderr = io.Discard
		} else {
			cmd.Stderr = os.Stderr
		}
	}

	ctx := e.Context
	if ctx == nil {
		ctx = context.Background()
	}

	finalCmd := exec.CommandContext(ctx, cmd.Path, cmd.Args[1:]...)
	finalCmd.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		finalCmd.Env = cmd.Env
	} else {
		finalCmd.Env = os.Environ()
	}
	finalCmd.Stdin = cmd.Stdin
	finalCmd.Stdout = cmd.Stdout
	finalCmd.Stderr = cmd.Stderr
	finalCmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	debugf("  -> Running %v\n", cmd.Args)
	if err := finalCmd.Start(); err != nil {
		return fmt.Errorf("failed to start command: %w", err)
	}

	pgid := finalCmd.Process.Pid
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			syscall.Kill(-pgid, syscall.SIGKILL)
		case <-done:
		}
	}()

	if waitErr := finalCmd.Wait(); waitErr != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("command aborted: %v", ctx.Err())
		}
		return fmt.Errorf("%v: %w", cmd.Args, waitErr)
	}
	return nil
}
