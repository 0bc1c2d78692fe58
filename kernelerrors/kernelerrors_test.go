package kernelerrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigError_UnwrapsUnderlyingError(t *testing.T) {
	inner := errors.New("schema mismatch")
	err := &ConfigError{Reason: "bad capability", Err: inner}

	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "bad capability")
}

func TestConfigError_WithoutUnderlyingError(t *testing.T) {
	err := &ConfigError{Reason: "missing field"}
	require.Equal(t, "config error: missing field", err.Error())
}

func TestPolicyDenied_MessageIncludesTaskAndAction(t *testing.T) {
	err := &PolicyDenied{TaskID: "t1", Action: "task.pre", Reason: "blocked capability"}
	require.Contains(t, err.Error(), "t1")
	require.Contains(t, err.Error(), "task.pre")
	require.Contains(t, err.Error(), "blocked capability")
}

func TestVerificationFailed_MessageListsExpressions(t *testing.T) {
	err := &VerificationFailed{TaskID: "t1", Expressions: []string{"outputs.x > 0"}}
	require.Contains(t, err.Error(), "t1")
	require.Contains(t, err.Error(), "outputs.x > 0")
}

func TestTaskFailed_UnwrapsUnderlyingError(t *testing.T) {
	inner := errors.New("boom")
	err := &TaskFailed{TaskID: "t1", Stage: "execute", Err: inner}
	require.ErrorIs(t, err, inner)
}

func TestContextInsufficient_MessageListsUnresolvedDirectives(t *testing.T) {
	err := &ContextInsufficient{TaskID: "t1", Directives: []string{"docs:missing"}}
	require.Contains(t, err.Error(), "docs:missing")
}

func TestErrorsAs_MatchesConcretePointerType(t *testing.T) {
	var err error = &TaskFailed{TaskID: "t1", Stage: "execute", Err: errors.New("x")}
	var target *TaskFailed
	require.True(t, errors.As(err, &target))
	require.Equal(t, "t1", target.TaskID)
}
