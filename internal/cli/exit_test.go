package cli

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	smerrors "github.com/matzehuels/smoothdeps/pkg/errors"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"plain", errors.New("boom"), ExitFailure},
		{"reported", &ExitError{Code: 7}, 7},
		{"wrapped reported", fmt.Errorf("install: %w", &ExitError{Code: ExitTerminal}), ExitTerminal},
		{"canceled", fmt.Errorf("probe: %w", context.Canceled), ExitInterrupted},
		{"exhausted", smerrors.New(smerrors.ErrCodeAllSourcesExhausted, "all sources failed"), ExitExhausted},
		{"not found", smerrors.New(smerrors.ErrCodePackageNotFound, "left-pad"), ExitTerminal},
		{"conflict", smerrors.New(smerrors.ErrCodeVersionConflict, "numpy"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ExitCode(tt.err))
		})
	}
}

func TestExitError(t *testing.T) {
	assert.Equal(t, "exit status 1", (&ExitError{Code: 1}).Error())

	cause := smerrors.New(smerrors.ErrCodeVersionConflict, "numpy")
	err := &ExitError{Code: ExitFailure, Err: cause}
	assert.Equal(t, cause.Error(), err.Error())
	assert.ErrorIs(t, err, cause)
}

func TestReportReturnsCode(t *testing.T) {
	assert.Equal(t, ExitOK, Report(nil))
	assert.Equal(t, ExitInterrupted, Report(context.Canceled))
	assert.Equal(t, 3, Report(&ExitError{Code: 3}))
}
