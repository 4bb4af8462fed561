package installer

import (
	"context"
	"errors"
	"strings"

	smerrors "github.com/matzehuels/smoothdeps/pkg/errors"
	"github.com/matzehuels/smoothdeps/pkg/httputil"
	"github.com/matzehuels/smoothdeps/pkg/source"
)

// Outcome classifies one attempt.
type Outcome string

const (
	OutcomeOK        Outcome = "ok"
	OutcomeTransient Outcome = "transient" // Retried on the same source
	OutcomeSource    Outcome = "source"    // Fails over to the next source
	OutcomeTerminal  Outcome = "terminal"  // Surfaced immediately
	OutcomeConflict  Outcome = "conflict"  // Reported, not a failure
)

// marker ties a substring of package manager output to an outcome. Markers
// are checked in order; the first match wins. code overrides the default
// error code of the outcome.
type marker struct {
	text    string
	outcome Outcome
	code    smerrors.Code
}

var pipMarkers = []marker{
	{"ResolutionImpossible", OutcomeConflict, ""},
	{"conflicting dependencies", OutcomeConflict, ""},
	// An unreachable index also ends in "No matching distribution".
	{"connection broken by", OutcomeSource, ""},
	{"No matching distribution", OutcomeTerminal, ""},
	{"Could not find a version", OutcomeTerminal, ""},
	{"Invalid requirement", OutcomeTerminal, ""},
	// The package, not the mirror: another mirror serves the same files.
	{"requires a different Python", OutcomeTerminal, smerrors.ErrCodeIncompatible},
	{"is not a supported wheel on this platform", OutcomeTerminal, smerrors.ErrCodeIncompatible},
	{"subprocess-exited-with-error", OutcomeTerminal, smerrors.ErrCodeBuildFailed},
	{"metadata-generation-failed", OutcomeTerminal, smerrors.ErrCodeBuildFailed},
	{"Failed building wheel", OutcomeTerminal, smerrors.ErrCodeBuildFailed},
	{"Failed to build", OutcomeTerminal, smerrors.ErrCodeBuildFailed},
	{"timed out", OutcomeTransient, ""},
	{"Connection reset", OutcomeTransient, ""},
	{"ConnectionResetError", OutcomeTransient, ""},
	{"Temporary failure in name resolution", OutcomeTransient, ""},
	{"Name or service not known", OutcomeTransient, ""},
	{"nodename nor servname", OutcomeTransient, ""},
	{"IncompleteRead", OutcomeTransient, ""},
}

var npmMarkers = []marker{
	{"ERESOLVE", OutcomeConflict, ""},
	{"E404", OutcomeTerminal, ""},
	{"ETARGET", OutcomeTerminal, ""},
	{"EINVALIDTAGNAME", OutcomeTerminal, ""},
	{"EBADENGINE", OutcomeTerminal, smerrors.ErrCodeIncompatible},
	{"ETIMEDOUT", OutcomeTransient, ""},
	{"ESOCKETTIMEDOUT", OutcomeTransient, ""},
	{"ECONNRESET", OutcomeTransient, ""},
	{"EAI_AGAIN", OutcomeTransient, ""},
}

// Classify maps a failed package manager run to an outcome from its
// combined output. Unrecognized failures are source-level.
func Classify(kind source.Kind, output string) Outcome {
	return match(kind, output).outcome
}

func match(kind source.Kind, output string) marker {
	markers := pipMarkers
	if kind == source.KindNpm {
		markers = npmMarkers
	}
	for _, m := range markers {
		if strings.Contains(output, m.text) {
			return m
		}
	}
	return marker{outcome: OutcomeSource}
}

var outcomeCodes = map[Outcome]smerrors.Code{
	OutcomeTransient: smerrors.ErrCodeTransient,
	OutcomeSource:    smerrors.ErrCodeSourceFailure,
	OutcomeTerminal:  smerrors.ErrCodePackageNotFound,
	OutcomeConflict:  smerrors.ErrCodeVersionConflict,
}

// runError turns a failed run into a coded error carrying the last line of
// output.
func runError(kind source.Kind, target string, output []byte, err error) error {
	m := match(kind, string(output))
	code := m.code
	if code == "" {
		code = outcomeCodes[m.outcome]
	}
	e := smerrors.Wrap(code, err, "%s install %s: %s", kind, target, lastLine(output))
	if m.outcome == OutcomeTransient {
		return httputil.Retryable(e)
	}
	return e
}

// outcomeOf classifies an error returned by an attempt.
func outcomeOf(err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case smerrors.Is(err, smerrors.ErrCodeVersionConflict):
		return OutcomeConflict
	case smerrors.IsTerminal(err):
		return OutcomeTerminal
	case httputil.IsRetryable(err), smerrors.Is(err, smerrors.ErrCodeTransient),
		errors.Is(err, context.DeadlineExceeded):
		return OutcomeTransient
	}
	return OutcomeSource
}

func lastLine(output []byte) string {
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if l := strings.TrimSpace(lines[i]); l != "" {
			return l
		}
	}
	return "no output"
}
