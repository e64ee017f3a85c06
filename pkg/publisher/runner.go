package publisher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ErrRunnerFailed marks a document the preprocessor could not process.
var ErrRunnerFailed = errors.New("preprocessor failed")

// Runner turns a source manifest on in into a processed manifest on
// out. *preprocessor.Processor is the in-process implementation.
type Runner interface {
	Run(ctx context.Context, in io.Reader, out io.Writer) error
}

// ExecRunner runs the preprocessor as a child process:
// <Command> [Args...] --cwd <SrcDir> [--cache <CacheDir>].
type ExecRunner struct {
	Command  string
	Args     []string
	SrcDir   string
	CacheDir string
}

func (r *ExecRunner) args() []string {
	args := append([]string(nil), r.Args...)
	if r.SrcDir != "" {
		args = append(args, "--cwd", r.SrcDir)
	}
	if r.CacheDir != "" {
		args = append(args, "--cache", r.CacheDir)
	}
	return args
}

func (r *ExecRunner) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	cmd := exec.CommandContext(ctx, r.Command, r.args()...)
	cmd.Stdin = in

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return err
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrRunnerFailed, r.Command, err)
	}

	// 管道必须在 Wait 之前读完
	var errBuf bytes.Buffer
	var g errgroup.Group
	g.Go(func() error {
		_, err := io.Copy(out, stdout)
		if err != nil {
			// 下游写失败时继续排空管道，避免子进程阻塞
			io.Copy(io.Discard, stdout)
		}
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(&errBuf, stderr)
		return err
	})
	copyErr := g.Wait()
	waitErr := cmd.Wait()

	if waitErr != nil {
		msg := strings.TrimSpace(errBuf.String())
		if msg != "" {
			return fmt.Errorf("%w: %s: %v: %s", ErrRunnerFailed, r.Command, waitErr, msg)
		}
		return fmt.Errorf("%w: %s: %v", ErrRunnerFailed, r.Command, waitErr)
	}
	if copyErr != nil {
		return fmt.Errorf("copying %s output: %w", r.Command, copyErr)
	}
	return nil
}
