package errors

import (
	"fmt"
	"testing"
)

func TestExitCodes(t *testing.T) {
	cases := []struct {
		code Code
		want int
	}{
		{CodeEnvironment, 10},
		{CodeLaneMismatch, 20},
		{CodeQualityGate, 30},
		{CodeHandlerFatal, 40},
		{CodeHandlerTimeout, 40},
		{CodeStatusCorrupt, 50},
		{CodeCanceled, 130},
		{Code("UNKNOWN"), 1},
	}
	for _, c := range cases {
		if got := c.code.ExitCode(); got != c.want {
			t.Errorf("%s.ExitCode() = %d, want %d", c.code, got, c.want)
		}
	}
}

func TestCodeOf(t *testing.T) {
	err := &LaneMismatchError{ProposedLane: "docs", CodeFilesFound: 1}
	if got := CodeOf(err); got != CodeLaneMismatch {
		t.Errorf("CodeOf = %s, want %s", got, CodeLaneMismatch)
	}

	wrapped := fmt.Errorf("run failed: %w", err)
	if got := CodeOf(wrapped); got != CodeLaneMismatch {
		t.Errorf("CodeOf(wrapped) = %s, want %s", got, CodeLaneMismatch)
	}

	if got := CodeOf(ErrCanceled); got != CodeCanceled {
		t.Errorf("CodeOf(ErrCanceled) = %s, want %s", got, CodeCanceled)
	}

	if got := CodeOf(fmt.Errorf("plain")); got != Code("") {
		t.Errorf("CodeOf(plain) = %s, want empty", got)
	}
}

func TestHandlerErrorCode(t *testing.T) {
	he := &HandlerError{StageIndex: 4, Kind: HandlerTimeout, Cause: fmt.Errorf("deadline")}
	if he.Code() != CodeHandlerTimeout {
		t.Errorf("Code() = %s, want %s", he.Code(), CodeHandlerTimeout)
	}
	if got := he.Error(); got == "" {
		t.Error("Error() should not be empty")
	}
}
