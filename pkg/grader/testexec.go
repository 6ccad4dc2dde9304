package grader

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kth-id2202/autograder/pkg/executor"
	"github.com/kth-id2202/autograder/pkg/metrics"
	"github.com/kth-id2202/autograder/pkg/types"
)

// expectation is one stream's comparison configuration: a primary expected
// value, any number of accepted alternatives, and independent trim/
// strip-whitespace treatment applied to a copy before comparison. The raw,
// untreated value is always what ends up in a TestFailureDetails.
type expectation struct {
	ignore       bool
	primary      string
	alternatives []string
	trim         bool
	stripWS      bool
}

func stripASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (e expectation) treat(s string) string {
	if e.trim {
		s = strings.TrimSpace(s)
	}
	if e.stripWS {
		s = stripASCIIWhitespace(s)
	}
	return s
}

func (e expectation) matches(raw string) bool {
	if e.ignore {
		return true
	}
	got := e.treat(raw)
	if got == e.treat(e.primary) {
		return true
	}
	for _, alt := range e.alternatives {
		if got == e.treat(alt) {
			return true
		}
	}
	return false
}

func optString(opts map[string]any, key string) string {
	v, _ := opts[key].(string)
	return v
}

func optBool(opts map[string]any, key string) bool {
	v, _ := opts[key].(bool)
	return v
}

func optStringSlice(opts map[string]any, key string) []string {
	raw, ok := opts[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func optInt(opts map[string]any, key string, def int) int {
	switch v := opts[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func loadExpectation(opts map[string]any, ignoreKey, valueKey, altKey, trimKey, stripKey string) expectation {
	return expectation{
		ignore:       optBool(opts, ignoreKey),
		primary:      optString(opts, valueKey),
		alternatives: optStringSlice(opts, altKey),
		trim:         optBool(opts, trimKey),
		stripWS:      optBool(opts, stripKey),
	}
}

// runExpectations is everything classifyRunResult needs to judge and, on
// mismatch, describe one executed command.
type runExpectations struct {
	expectCode   int
	ignoreCode   bool
	stdout       expectation
	stderr       expectation
	argv         []string
	stdin        string
	inputFile    string
	generatedAsm string
}

// stageInputFile copies an on-disk input file into the tests mount so the
// container can read it, returning its in-container path and a cleanup that
// removes the staged copy. An empty path is a no-op.
func (r *Runner) stageInputFile(path string) (containerPath string, cleanup func(), err error) {
	if path == "" {
		return "", func() {}, nil
	}
	base := filepath.Base(path)
	dst := filepath.Join(r.TestsDir, base)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return "", nil, err
	}
	return filepath.Join(r.mountTests, base), func() { _ = os.Remove(dst) }, nil
}

func (r *Runner) recordFailure(test *types.Test, details *types.TestFailureDetails) types.TestResult {
	r.testsFailed++
	if r.testsFailed > r.testsMaxShown {
		details = nil
	}
	return types.TestResult{Name: test.Name, Outcome: types.TestFailed, Details: details}
}

func (r *Runner) recordRunnerFatalTest(test *types.Test, err error) types.TestResult {
	r.log.Error().Err(err).Str("test", test.Name).Msg("runner-fatal failure during test execution")
	return r.recordFailure(test, &types.TestFailureDetails{
		Description:    test.Description,
		ReceivedStderr: OpaqueRunnerFatalMessage,
	})
}

// classifyRunResult turns one captured subprocess outcome into a TestResult,
// setting the runner's failureCause when the command itself timed out or
// breached an output cap (the tag is abandoned by the caller in that case).
func (r *Runner) classifyRunResult(test *types.Test, res *executor.Result, execErr error, exp runExpectations) types.TestResult {
	var timeoutErr *executor.TimeoutError
	var limitErr *executor.OutputLimitError

	if errors.As(execErr, &timeoutErr) {
		r.failureCause = types.FailureTestTimeout
		return types.TestResult{Name: test.Name, Outcome: types.TestTimedOut}
	}
	if errors.As(execErr, &limitErr) {
		r.failureCause = types.FailureOutputLimit
		return types.TestResult{Name: test.Name, Outcome: types.TestOutputLimit, OutputCap: limitErr.Cap}
	}
	if res == nil {
		res = &executor.Result{}
	}

	stdout := string(res.Stdout)
	stderr := string(res.Stderr)

	codeOK := exp.ignoreCode || res.Code == exp.expectCode
	stdoutOK := exp.stdout.matches(stdout)
	stderrOK := exp.stderr.matches(stderr)

	if execErr == nil && codeOK && stdoutOK && stderrOK {
		return types.TestResult{Name: test.Name, Outcome: types.TestOK}
	}

	details := &types.TestFailureDetails{
		Description:    test.Description,
		CommandLine:    exp.argv,
		Stdin:          exp.stdin,
		InputFile:      exp.inputFile,
		ReceivedStdout: stdout,
		ReceivedStderr: stderr,
		Trimmed:        exp.stdout.trim || exp.stderr.trim,
		StrippedWS:     exp.stdout.stripWS || exp.stderr.stripWS,
		GeneratedAsm:   exp.generatedAsm,
	}
	if !exp.ignoreCode {
		expected, got := exp.expectCode, res.Code
		details.ExpectedCode = &expected
		details.ReceivedCode = &got
	}
	if !exp.stdout.ignore {
		details.ExpectedStdout = append([]string{exp.stdout.primary}, exp.stdout.alternatives...)
	}
	if !exp.stderr.ignore {
		details.ExpectedStderr = append([]string{exp.stderr.primary}, exp.stderr.alternatives...)
	}

	return r.recordFailure(test, details)
}

// runKindRun executes a Test whose kind is "run": invoke the built binary
// with optional stdin/input-file, and compare exit code and stdout/stderr
// against the configured expectations.
func (r *Runner) runKindRun(ctx context.Context, test *types.Test) types.TestResult {
	opts := test.Options
	bin := optString(opts, "bin")
	args := optStringSlice(opts, "args")

	var stdin []byte
	if !optBool(opts, "ignore_stdin") {
		stdin = []byte(optString(opts, "stdin"))
	}

	var inputFile string
	if len(test.InputFiles) == 1 {
		inputFile = test.InputFiles[0]
	}
	containerInfile, cleanup, err := r.stageInputFile(inputFile)
	if err != nil {
		return r.recordRunnerFatalTest(test, err)
	}
	defer cleanup()

	argv := append([]string{bin}, args...)
	if containerInfile != "" {
		argv = append(argv, containerInfile)
	}

	res, execErr := r.Container.Exec(ctx, r.containerName, graderSolutionPath, argv, executor.Options{
		Timeout:   test.Timeout,
		Stdin:     stdin,
		MaxStdout: r.maxOutput,
		MaxStderr: r.maxOutput,
	})

	return r.classifyRunResult(test, res, execErr, runExpectations{
		expectCode: optInt(opts, "code", 0),
		ignoreCode: optBool(opts, "ignore_code"),
		stdout:     loadExpectation(opts, "ignore_stdout", "stdout", "stdout_alternatives", "trim_stdout", "strip_whitespace_stdout"),
		stderr:     loadExpectation(opts, "ignore_stderr", "stderr", "stderr_alternatives", "trim_stderr", "strip_whitespace_stderr"),
		argv:       argv,
		stdin:      string(stdin),
		inputFile:  inputFile,
	})
}

func substituteAsmPlaceholder(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = strings.ReplaceAll(a, "<ASM_FILE>", "gen.asm")
	}
	return out
}

const asmWorkdir = "/tmp/grading"

// runKindGenAsmAndRun executes a Test whose kind is "gen_asm_and_run": the
// solution binary produces assembly on stdout, which is then assembled,
// compiled and run as three further sub-steps, each with its own exit/
// stdout/stderr expectations. The first failing sub-step stops the chain.
func (r *Runner) runKindGenAsmAndRun(ctx context.Context, test *types.Test) types.TestResult {
	opts := test.Options
	bin := optString(opts, "bin")
	args := optStringSlice(opts, "args")

	var stdin []byte
	if !optBool(opts, "ignore_stdin") {
		stdin = []byte(optString(opts, "stdin"))
	}

	var inputFile string
	if len(test.InputFiles) == 1 {
		inputFile = test.InputFiles[0]
	}
	containerInfile, cleanup, err := r.stageInputFile(inputFile)
	if err != nil {
		return r.recordRunnerFatalTest(test, err)
	}
	defer cleanup()

	argv := append([]string{bin}, args...)
	if containerInfile != "" {
		argv = append(argv, containerInfile)
	}

	genRes, execErr := r.Container.Exec(ctx, r.containerName, graderSolutionPath, argv, executor.Options{
		Timeout:   test.Timeout,
		Stdin:     stdin,
		MaxStdout: r.maxOutput,
		MaxStderr: r.maxOutput,
	})

	genResult := r.classifyRunResult(test, genRes, execErr, runExpectations{
		expectCode: optInt(opts, "code", 0),
		stdout:     expectation{ignore: true},
		stderr:     loadExpectation(opts, "ignore_stderr", "stderr", "stderr_alternatives", "trim_stderr", "strip_whitespace_stderr"),
		argv:       argv,
		stdin:      string(stdin),
		inputFile:  inputFile,
	})
	if genResult.Outcome != types.TestOK {
		return genResult
	}

	asm := string(genRes.Stdout)

	asmHostPath := filepath.Join(r.TestsDir, "gen.asm")
	if err := os.WriteFile(asmHostPath, []byte(asm), 0o644); err != nil {
		return r.recordRunnerFatalTest(test, err)
	}
	defer os.Remove(asmHostPath)

	if err := r.copyGeneratedAsmIntoWorkdir(ctx); err != nil {
		return r.recordRunnerFatalTest(test, err)
	}

	assembleArgv := substituteAsmPlaceholder(optStringSlice(opts, "assemble_cmd"))
	assembleRes, assembleErr := r.Container.Exec(ctx, r.containerName, asmWorkdir, assembleArgv, executor.Options{
		Timeout:   test.Timeout,
		MaxStdout: r.maxOutput,
		MaxStderr: r.maxOutput,
	})
	assembleResult := r.classifyRunResult(test, assembleRes, assembleErr, runExpectations{
		expectCode:   optInt(opts, "assemble_code", 0),
		stdout:       expectation{ignore: true},
		stderr:       expectation{ignore: true},
		argv:         assembleArgv,
		generatedAsm: asm,
	})
	if assembleResult.Outcome != types.TestOK {
		return assembleResult
	}

	compileArgv := optStringSlice(opts, "compile_cmd")
	compileRes, compileErr := r.Container.Exec(ctx, r.containerName, asmWorkdir, compileArgv, executor.Options{
		Timeout:   test.Timeout,
		MaxStdout: r.maxOutput,
		MaxStderr: r.maxOutput,
	})
	compileResult := r.classifyRunResult(test, compileRes, compileErr, runExpectations{
		expectCode:   optInt(opts, "compile_code", 0),
		stdout:       expectation{ignore: true},
		stderr:       expectation{ignore: true},
		argv:         compileArgv,
		generatedAsm: asm,
	})
	if compileResult.Outcome != types.TestOK {
		return compileResult
	}

	var runStdin []byte
	if !optBool(opts, "run_ignore_stdin") {
		runStdin = []byte(optString(opts, "run_stdin"))
	}
	runArgv := optStringSlice(opts, "run_cmd")
	runRes, runErr := r.Container.Exec(ctx, r.containerName, asmWorkdir, runArgv, executor.Options{
		Timeout:   test.Timeout,
		Stdin:     runStdin,
		MaxStdout: r.maxOutput,
		MaxStderr: r.maxOutput,
	})
	return r.classifyRunResult(test, runRes, runErr, runExpectations{
		expectCode:   optInt(opts, "run_code", 0),
		stdout:       loadExpectation(opts, "run_ignore_stdout", "run_stdout", "run_stdout_alternatives", "run_trim_stdout", "run_strip_whitespace_stdout"),
		stderr:       loadExpectation(opts, "run_ignore_stderr", "run_stderr", "run_stderr_alternatives", "run_trim_stderr", "run_strip_whitespace_stderr"),
		argv:         runArgv,
		stdin:        string(runStdin),
		generatedAsm: asm,
	})
}

// copyGeneratedAsmIntoWorkdir copies the tests-mount gen.asm into the fixed
// in-container location the assemble/compile/run sub-steps share.
func (r *Runner) copyGeneratedAsmIntoWorkdir(ctx context.Context) error {
	mkdirCode := 0
	if _, err := r.Container.Exec(ctx, r.containerName, "", []string{"mkdir", "-p", asmWorkdir}, executor.Options{
		Timeout: 10 * time.Second, ExpectedCode: &mkdirCode, MaxStdout: 4096, MaxStderr: 4096,
	}); err != nil {
		return err
	}

	asmMountPath := filepath.Join(r.mountTests, "gen.asm")
	copyCode := 0
	_, err := r.Container.Exec(ctx, r.containerName, "", []string{"cp", asmMountPath, filepath.Join(asmWorkdir, "gen.asm")}, executor.Options{
		Timeout: 10 * time.Second, ExpectedCode: &copyCode, MaxStdout: 4096, MaxStderr: 4096,
	})
	return err
}

// runKindCheckFileExists executes a Test whose kind is "check_file_exists":
// it passes iff the built file is present and, unless ignore_mimetype is
// set, its MIME type starts with mimetype_prefix.
func (r *Runner) runKindCheckFileExists(ctx context.Context, test *types.Test) types.TestResult {
	opts := test.Options
	relPath := optString(opts, "path")
	fullPath := filepath.Join(r.BuildDir, relPath)

	info, err := os.Stat(fullPath)
	if err != nil || info.IsDir() {
		return r.recordFailure(test, &types.TestFailureDetails{
			Description:    test.Description,
			ReceivedStderr: "file not found: " + relPath,
		})
	}

	if !optBool(opts, "ignore_mimetype") {
		mt, err := mimetype(ctx, fullPath)
		if err != nil {
			return r.recordRunnerFatalTest(test, err)
		}
		prefix := optString(opts, "mimetype_prefix")
		if !strings.HasPrefix(mt, prefix) {
			return r.recordFailure(test, &types.TestFailureDetails{
				Description:    test.Description,
				ReceivedStderr: "unexpected MIME type: " + mt,
			})
		}
	}

	return types.TestResult{Name: test.Name, Outcome: types.TestOK}
}

// stepTest executes exactly one not-yet-run test in the current tag.
func (r *Runner) stepTest(ctx context.Context, ts *tagState) {
	if ts.testIdx >= len(ts.flatTests) {
		r.phase = phaseDone
		return
	}

	test := ts.flatTests[ts.testIdx]

	timer := metrics.NewTimer()
	var result types.TestResult
	switch test.Kind {
	case types.TestKindRun:
		result = r.runKindRun(ctx, test)
	case types.TestKindGenAsmAndRun:
		result = r.runKindGenAsmAndRun(ctx, test)
	case types.TestKindCheckFileExists:
		result = r.runKindCheckFileExists(ctx, test)
	default:
		result = r.recordFailure(test, &types.TestFailureDetails{
			Description:    test.Description,
			ReceivedStderr: "unknown test kind: " + string(test.Kind),
		})
	}
	timer.ObserveDurationVec(metrics.TestDuration, string(result.Outcome))

	ts.results[test] = result
	ts.testIdx++
	if ts.testIdx >= len(ts.flatTests) {
		r.phase = phaseDone
	}
}
