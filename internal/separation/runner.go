package separation

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/stemtranscriber/api/internal/progress"
)

// Runner starts the external separation tool and delivers its combined
// stdout/stderr one line at a time.
type Runner interface {
	Run(ctx context.Context, name string, args []string, onLine func(string)) error
}

// ExitError reports a tool that ran but exited with a non-zero status.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ExecRunner runs the tool as a local subprocess.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, name, args...)

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		pw.Close()
		return fmt.Errorf("failed to start %s: %w", name, err)
	}

	waitErr := make(chan error, 1)
	go func() {
		err := cmd.Wait()
		pw.Close()
		waitErr <- err
	}()

	sc := bufio.NewScanner(pr)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	sc.Split(progress.ScanLines)
	for sc.Scan() {
		onLine(sc.Text())
	}
	// drain so Wait can return if the scanner stopped early
	_, _ = io.Copy(io.Discard, pr)

	err := <-waitErr
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s interrupted: %w", name, ctxErr)
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return &ExitError{Code: exitErr.ExitCode()}
	}
	return fmt.Errorf("failed to run %s: %w", name, err)
}
