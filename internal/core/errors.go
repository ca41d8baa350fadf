package core

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a pipeline failure by the collaborator that caused it.
type Kind int

const (
	// KindSourceUnavailable covers checkout and submodule fetch failures.
	KindSourceUnavailable Kind = iota
	// KindEnvironmentSetup covers symlink and environment configuration failures.
	KindEnvironmentSetup
	// KindDependencyInstall covers failures in either install channel.
	KindDependencyInstall
	// KindBuild covers compiler toolchain and package install failures.
	KindBuild
	// KindTestFailure means one or more tests failed: a code defect.
	KindTestFailure
	// KindTestRunner means the test harness itself crashed: an
	// infrastructure defect, kept distinct from KindTestFailure.
	KindTestRunner
	// KindPackaging covers distributable build failures.
	KindPackaging
)

// Exit codes, one per failing stage so CI logs can be triaged from the
// process status alone.
const (
	ExitOK         = 0
	ExitUsage      = 2
	ExitNormalize  = 10
	ExitDeps       = 11
	ExitBuild      = 12
	ExitTests      = 13
	ExitTestRunner = 14
	ExitPackaging  = 15
)

func (k Kind) String() string {
	switch k {
	case KindSourceUnavailable:
		return "SourceUnavailable"
	case KindEnvironmentSetup:
		return "EnvironmentSetupError"
	case KindDependencyInstall:
		return "DependencyInstallError"
	case KindBuild:
		return "BuildError"
	case KindTestFailure:
		return "TestFailure"
	case KindTestRunner:
		return "TestRunnerError"
	case KindPackaging:
		return "PackagingError"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// StageError is the single error type crossing stage boundaries. It
// carries the classification, the captured output of the failing
// command, and the underlying cause.
type StageError struct {
	Kind   Kind
	Output string
	Err    error
}

func (e *StageError) Error() string {
	msg := e.Kind.String()
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if out := strings.TrimSpace(e.Output); out != "" {
		msg = fmt.Sprintf("%s\n\noutput:\n%s", msg, out)
	}
	return msg
}

func (e *StageError) Unwrap() error { return e.Err }

// NewStageError wraps err with a classification and the output captured
// from the failing command.
func NewStageError(kind Kind, output string, err error) *StageError {
	return &StageError{Kind: kind, Output: output, Err: err}
}

// Errorf builds a classified error from a format string, with no
// captured output attached.
func Errorf(kind Kind, format string, args ...any) *StageError {
	return &StageError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// ErrorKind extracts the classification from err. The second return is
// false when err is not a StageError.
func ErrorKind(err error) (Kind, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se.Kind, true
	}
	return 0, false
}

// ExitCode maps err to the process exit status. Unclassified errors get
// the generic usage/configuration code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	kind, ok := ErrorKind(err)
	if !ok {
		return ExitUsage
	}
	switch kind {
	case KindSourceUnavailable, KindEnvironmentSetup:
		return ExitNormalize
	case KindDependencyInstall:
		return ExitDeps
	case KindBuild:
		return ExitBuild
	case KindTestFailure:
		return ExitTests
	case KindTestRunner:
		return ExitTestRunner
	case KindPackaging:
		return ExitPackaging
	}
	return ExitUsage
}
