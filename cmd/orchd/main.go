// Package main implements the orchd command: it runs the reactions and
// sensors of a configuration and inspects the registered component types.
package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/c360/orchd/errors"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "orchd"
)

// Exit codes
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitPanic   = 2
	ExitInvalid = 3
)

// ExitError carries the process exit code of a failed command.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(ExitPanic)
		}
	}()

	code := execute(context.Background(), os.Args[1:], os.Stdout, os.Stderr)
	os.Exit(code)
}

// execute runs the root command with args and returns the exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	if err := cmd.ExecuteContext(ctx); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitCode(err)
	}
	return ExitOK
}

func exitCode(err error) int {
	var exitErr *ExitError
	switch {
	case err == nil:
		return ExitOK
	case stderrors.As(err, &exitErr):
		return exitErr.Code
	case errors.IsInvalid(err):
		return ExitInvalid
	default:
		return ExitFailure
	}
}
