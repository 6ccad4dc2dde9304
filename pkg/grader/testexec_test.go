package grader

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kth-id2202/autograder/pkg/executor"
	"github.com/kth-id2202/autograder/pkg/types"
)

func TestExpectationMatchesPrimaryAndAlternatives(t *testing.T) {
	e := expectation{primary: "hello", alternatives: []string{"hi", "hey"}}
	assert.True(t, e.matches("hello"))
	assert.True(t, e.matches("hi"))
	assert.True(t, e.matches("hey"))
	assert.False(t, e.matches("bye"))
}

func TestExpectationIgnoreAlwaysMatches(t *testing.T) {
	e := expectation{ignore: true, primary: "anything"}
	assert.True(t, e.matches("whatever at all"))
}

func TestExpectationTrimAndStripWhitespace(t *testing.T) {
	e := expectation{primary: "a b c", trim: true, stripWS: true}
	assert.True(t, e.matches("  ab  c\n"))
}

func TestExpectationTrimOnly(t *testing.T) {
	e := expectation{primary: "value", trim: true}
	assert.True(t, e.matches("  value  "))
	assert.False(t, e.matches("  val ue  "))
}

func TestStripASCIIWhitespace(t *testing.T) {
	assert.Equal(t, "abc", stripASCIIWhitespace(" a\tb\nc\r\n"))
}

func TestOptStringSliceIgnoresNonStringElements(t *testing.T) {
	opts := map[string]any{"args": []any{"a", 1, "b"}}
	assert.Equal(t, []string{"a", "b"}, optStringSlice(opts, "args"))
}

func TestOptIntAcceptsInt64FromTOML(t *testing.T) {
	opts := map[string]any{"code": int64(7)}
	assert.Equal(t, 7, optInt(opts, "code", 0))
	assert.Equal(t, 99, optInt(opts, "missing", 99))
}

func newTestRunnerForClassify() *Runner {
	return &Runner{testsMaxShown: 10}
}

func TestClassifyRunResultOK(t *testing.T) {
	r := newTestRunnerForClassify()
	test := &types.Test{Name: "t1"}
	res := &executor.Result{Code: 0, Stdout: []byte("ok"), Stderr: []byte("")}
	exp := runExpectations{
		expectCode: 0,
		stdout:     expectation{primary: "ok"},
		stderr:     expectation{primary: ""},
	}
	got := r.classifyRunResult(test, res, nil, exp)
	assert.Equal(t, types.TestOK, got.Outcome)
	assert.Nil(t, got.Details)
}

func TestClassifyRunResultMismatchRecordsDetails(t *testing.T) {
	r := newTestRunnerForClassify()
	test := &types.Test{Name: "t1", Description: "does a thing"}
	res := &executor.Result{Code: 0, Stdout: []byte("wrong"), Stderr: []byte("")}
	exp := runExpectations{
		expectCode: 0,
		stdout:     expectation{primary: "right"},
		stderr:     expectation{primary: ""},
		argv:       []string{"bin", "arg"},
	}
	got := r.classifyRunResult(test, res, nil, exp)
	assert.Equal(t, types.TestFailed, got.Outcome)
	require.NotNil(t, got.Details)
	assert.Equal(t, "does a thing", got.Details.Description)
	assert.Equal(t, []string{"right"}, got.Details.ExpectedStdout)
	assert.Equal(t, "wrong", got.Details.ReceivedStdout)
	assert.Equal(t, 1, r.testsFailed)
}

func TestClassifyRunResultExceedsShownFailuresCapDropsDetails(t *testing.T) {
	r := newTestRunnerForClassify()
	r.testsMaxShown = 1
	test := &types.Test{Name: "t1"}
	res := &executor.Result{Code: 1}
	exp := runExpectations{stdout: expectation{ignore: true}, stderr: expectation{ignore: true}}

	first := r.classifyRunResult(test, res, nil, exp)
	assert.NotNil(t, first.Details)

	second := r.classifyRunResult(test, res, nil, exp)
	assert.Nil(t, second.Details)
	assert.Equal(t, 2, r.testsFailed)
}

func TestClassifyRunResultTimeoutSetsFailureCause(t *testing.T) {
	r := newTestRunnerForClassify()
	test := &types.Test{Name: "t1"}
	execErr := &executor.TimeoutError{Stdout: []byte("partial")}
	got := r.classifyRunResult(test, nil, execErr, runExpectations{})
	assert.Equal(t, types.TestTimedOut, got.Outcome)
	assert.Equal(t, types.FailureTestTimeout, r.failureCause)
}

func TestClassifyRunResultOutputLimitSetsFailureCause(t *testing.T) {
	r := newTestRunnerForClassify()
	test := &types.Test{Name: "t1"}
	execErr := &executor.OutputLimitError{Cap: 1024}
	got := r.classifyRunResult(test, nil, execErr, runExpectations{})
	assert.Equal(t, types.TestOutputLimit, got.Outcome)
	assert.Equal(t, 1024, got.OutputCap)
	assert.Equal(t, types.FailureOutputLimit, r.failureCause)
}

func TestClassifyRunResultWrongExitCode(t *testing.T) {
	r := newTestRunnerForClassify()
	test := &types.Test{Name: "t1"}
	res := &executor.Result{Code: 2}
	exp := runExpectations{
		expectCode: 0,
		stdout:     expectation{ignore: true},
		stderr:     expectation{ignore: true},
	}
	got := r.classifyRunResult(test, res, nil, exp)
	assert.Equal(t, types.TestFailed, got.Outcome)
	require.NotNil(t, got.Details)
	require.NotNil(t, got.Details.ExpectedCode)
	assert.Equal(t, 0, *got.Details.ExpectedCode)
	assert.Equal(t, 2, *got.Details.ReceivedCode)
}

func TestClassifyRunResultIgnoreCodeSkipsComparison(t *testing.T) {
	r := newTestRunnerForClassify()
	test := &types.Test{Name: "t1"}
	res := &executor.Result{Code: 137}
	exp := runExpectations{
		ignoreCode: true,
		stdout:     expectation{ignore: true},
		stderr:     expectation{ignore: true},
	}
	got := r.classifyRunResult(test, res, nil, exp)
	assert.Equal(t, types.TestOK, got.Outcome)
}

func TestSubstituteAsmPlaceholder(t *testing.T) {
	got := substituteAsmPlaceholder([]string{"nasm", "-f", "elf64", "<ASM_FILE>", "-o", "out.o"})
	assert.Equal(t, []string{"nasm", "-f", "elf64", "gen.asm", "-o", "out.o"}, got)
}

func TestStepTestUnknownKindFails(t *testing.T) {
	r := newTestRunnerForClassify()
	test := &types.Test{Name: "mystery", Kind: types.TestKind("nonsense")}
	ts := &tagState{
		tag:       &types.Tag{},
		flatTests: []*types.Test{test},
		results:   make(map[*types.Test]types.TestResult),
	}
	r.stepTest(nil, ts)
	res := ts.results[test]
	assert.Equal(t, types.TestFailed, res.Outcome)
	assert.Equal(t, 1, ts.testIdx)
	assert.Equal(t, phaseDone, r.phase)
}

func TestStepTestAdvancesToDoneOnLastTest(t *testing.T) {
	r := newTestRunnerForClassify()
	test := &types.Test{Name: "exists-check", Kind: types.TestKindCheckFileExists, Options: map[string]any{
		"path": "does-not-exist.bin",
	}}
	ts := &tagState{
		tag:       &types.Tag{},
		flatTests: []*types.Test{test},
		results:   make(map[*types.Test]types.TestResult),
	}
	r.BuildDir = t.TempDir()
	r.stepTest(nil, ts)
	assert.Equal(t, types.TestFailed, ts.results[test].Outcome)
	assert.Equal(t, phaseDone, r.phase)
}

func TestClassifyRunResultNonNilGenericExecError(t *testing.T) {
	r := newTestRunnerForClassify()
	test := &types.Test{Name: "t1"}
	res := &executor.Result{Code: 0}
	got := r.classifyRunResult(test, res, errors.New("signal: killed"), runExpectations{
		stdout: expectation{ignore: true},
		stderr: expectation{ignore: true},
	})
	assert.Equal(t, types.TestFailed, got.Outcome)
}
