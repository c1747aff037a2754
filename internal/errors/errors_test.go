package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	cause := errors.New("underlying error")

	err := New(QueueFull, "compile lane is full", cause)

	if err.Code != QueueFull {
		t.Errorf("Code = %v, want %v", err.Code, QueueFull)
	}
	if err.Message != "compile lane is full" {
		t.Errorf("Message = %q, want %q", err.Message, "compile lane is full")
	}
	if len(err.SuggestedFixes) != 1 {
		t.Errorf("len(SuggestedFixes) = %d, want 1", len(err.SuggestedFixes))
	}
}

func TestGatewayError_Error(t *testing.T) {
	tests := []struct {
		name      string
		code      ErrorCode
		message   string
		cause     error
		wantParts []string
	}{
		{
			name:      "with cause",
			code:      GitFailure,
			message:   "git fetch failed",
			cause:     errors.New("exit status 128"),
			wantParts: []string{"GIT_FAILURE", "git fetch failed", "exit status 128"},
		},
		{
			name:      "without cause",
			code:      NotFound,
			message:   "ref 'nope' not found",
			cause:     nil,
			wantParts: []string{"NOT_FOUND", "ref 'nope' not found"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := New(tt.code, tt.message, tt.cause).Error()

			for _, part := range tt.wantParts {
				if !strings.Contains(got, part) {
					t.Errorf("Error() = %q, want to contain %q", got, part)
				}
			}
		})
	}
}

func TestGatewayError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := New(InternalError, "something went wrong", cause)

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should see the cause")
	}

	if Newf(NotFound, "missing %s", "x").Unwrap() != nil {
		t.Error("Unwrap() on error without cause should return nil")
	}
}

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorCode
	}{
		{"gateway error", New(QueueFull, "full", nil), QueueFull},
		{"wrapped", fmt.Errorf("dispatch: %w", New(NoExportablePaths, "none", nil)), NoExportablePaths},
		{"plain error", errors.New("boom"), InternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Errorf("CodeOf() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHasCode(t *testing.T) {
	if HasCode(nil, InternalError) {
		t.Error("nil error should not carry a code")
	}
	if !HasCode(New(QueueFull, "full", nil), QueueFull) {
		t.Error("expected QueueFull")
	}
	if HasCode(New(QueueFull, "full", nil), BuildFailure) {
		t.Error("QueueFull must not match BuildFailure")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(GitFailure, "git failed", nil).WithDetails(map[string]interface{}{
		"args": []string{"fetch"},
	})
	if err.Details == nil {
		t.Error("Details should be set")
	}
}

func TestGetSuggestedFixes(t *testing.T) {
	if fixes := GetSuggestedFixes(QueueFull); len(fixes) == 0 {
		t.Error("QueueFull should have a suggested fix")
	}
	if fixes := GetSuggestedFixes(NotFound); fixes != nil {
		t.Errorf("NotFound fixes = %v, want nil", fixes)
	}
}
