package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestNewAndWrap(t *testing.T) {
	err := New(ErrCodeSourceNotFound, "no %s source named %q", "pip", "corp")
	if got, want := err.Error(), `SOURCE_NOT_FOUND: no pip source named "corp"`; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}

	cause := context.DeadlineExceeded
	wrapped := Wrap(ErrCodeTransient, cause, "GET %s", "https://pypi.org/simple/numpy/")
	if got, want := wrapped.Error(), "TRANSIENT: GET https://pypi.org/simple/numpy/: context deadline exceeded"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
	if !errors.Is(wrapped, context.DeadlineExceeded) {
		t.Error("wrapped error should match its cause")
	}
	if errors.Unwrap(wrapped) != cause {
		t.Errorf("Unwrap() = %v, want %v", errors.Unwrap(wrapped), cause)
	}
}

func TestIs(t *testing.T) {
	exhausted := Wrap(ErrCodeAllSourcesExhausted, New(ErrCodeSourceFailure, "502 from b"), "numpy: 2 sources failed")

	tests := []struct {
		name string
		err  error
		code Code
		want bool
	}{
		{"direct", New(ErrCodeCacheCorrupt, "hash mismatch"), ErrCodeCacheCorrupt, true},
		{"other code", New(ErrCodeCacheCorrupt, "hash mismatch"), ErrCodeNetwork, false},
		{"outer code wins", exhausted, ErrCodeAllSourcesExhausted, true},
		{"inner code hidden", exhausted, ErrCodeSourceFailure, false},
		{"through fmt wrap", fmt.Errorf("install: %w", exhausted), ErrCodeAllSourcesExhausted, true},
		{"plain", errors.New("boom"), ErrCodeInternal, false},
		{"nil", nil, ErrCodeInternal, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Is(tt.err, tt.code); got != tt.want {
				t.Errorf("Is(%v, %s) = %v, want %v", tt.err, tt.code, got, tt.want)
			}
		})
	}
}

func TestGetCodeAndUserMessage(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode Code
		wantMsg  string
	}{
		{"coded", New(ErrCodeDuplicateSource, "pip source pypi-aliyun already exists"), ErrCodeDuplicateSource, "pip source pypi-aliyun already exists"},
		{"coded with cause", Wrap(ErrCodeNetwork, errors.New("dial tcp: refused"), "probe npm-official"), ErrCodeNetwork, "probe npm-official"},
		{"wrapped by fmt", fmt.Errorf("restore: %w", New(ErrCodeFileNotFound, "no lock file")), ErrCodeFileNotFound, "no lock file"},
		{"plain", errors.New("unexpected EOF"), "", "unexpected EOF"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.wantCode {
				t.Errorf("GetCode() = %q, want %q", got, tt.wantCode)
			}
			if got := UserMessage(tt.err); got != tt.wantMsg {
				t.Errorf("UserMessage() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
	if GetCode(nil) != "" {
		t.Error("GetCode(nil) should be empty")
	}
}

func TestIsTerminal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"package not found", New(ErrCodePackageNotFound, "nope"), true},
		{"bad spec", New(ErrCodeInvalidVersionSpec, "==?"), true},
		{"bad name", New(ErrCodeInvalidPackage, "../x"), true},
		{"wrong interpreter", New(ErrCodeIncompatible, "requires a different Python"), true},
		{"build failure", New(ErrCodeBuildFailed, "Failed building wheel"), true},
		{"transient", New(ErrCodeTransient, "timeout"), false},
		{"source failure", New(ErrCodeSourceFailure, "502"), false},
		{"conflict", New(ErrCodeVersionConflict, "numpy"), false},
		{"wrapped terminal", fmt.Errorf("install: %w", New(ErrCodePackageNotFound, "x")), true},
		{"plain", errors.New("plain"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTerminal(tt.err); got != tt.want {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.want)
			}
		})
	}
}
