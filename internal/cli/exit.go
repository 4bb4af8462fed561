package cli

import (
	"context"
	"errors"
	"strconv"

	smerrors "github.com/matzehuels/smoothdeps/pkg/errors"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1 // Generic failure, or conflicts where they fail the command
	ExitTerminal    = 10
	ExitExhausted   = 30
	ExitInterrupted = 130
)

// ExitError carries an exit code for an error that was already reported to
// the user. [Report] prints nothing for it.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return "exit status " + strconv.Itoa(e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode maps err to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	if errors.Is(err, context.Canceled) {
		return ExitInterrupted
	}
	switch {
	case smerrors.Is(err, smerrors.ErrCodeAllSourcesExhausted):
		return ExitExhausted
	case smerrors.IsTerminal(err):
		return ExitTerminal
	}
	return ExitFailure
}

// Report prints err as one concise line, unless it was reported already,
// and returns the exit code for it.
func Report(err error) int {
	code := ExitCode(err)
	var ee *ExitError
	if err != nil && !errors.As(err, &ee) && code != ExitInterrupted {
		printError("%s", smerrors.UserMessage(err))
	}
	return code
}
