package grader

import (
	"fmt"
	"strings"

	"github.com/kth-id2202/autograder/pkg/config"
	"github.com/kth-id2202/autograder/pkg/markdown"
	"github.com/kth-id2202/autograder/pkg/types"
)

// CollectedResults is the rendered outcome of a finished Runner: the
// markdown comment body posted to the submission, and the per-tag JSON
// documents published to the shadow repository.
type CollectedResults struct {
	Markdown string
	Tags     []types.TagResultDocument
	OK       bool
}

// CollectResults walks every tag's recorded build/test outcomes into the
// user-facing markdown comment and the JSON documents committed to the
// shadow repository. Only meaningful once Finished reports true.
func (r *Runner) CollectResults(md config.MDSettings) *CollectedResults {
	var b strings.Builder
	writeFailureCausePreamble(&b, r.failureCause)
	writeSymbolLegend(&b, md)

	var details []string
	docs := make([]types.TagResultDocument, 0, len(r.tags))
	allOK := true

	for _, ts := range r.tags {
		tagMD, doc := r.collectTag(ts, md, &details)
		b.WriteString(tagMD)
		docs = append(docs, doc)
		allOK = allOK && doc.OK
	}

	for i, d := range details {
		fmt.Fprintf(&b, "\n<details id=\"detail-summary-%d\">\n\n%s\n</details>\n", i+1, d)
	}

	return &CollectedResults{Markdown: b.String(), Tags: docs, OK: allOK && r.failureCause == ""}
}

// FailureStatusCode maps a runner's abort reason onto the persisted status
// taxonomy; it returns StatusSuccess for a run that was never aborted early.
func FailureStatusCode(cause types.FailureCause) types.StatusCode {
	switch cause {
	case types.FailureBuildTimeout:
		return types.StatusBuildTimedOut
	case types.FailureTestTimeout, types.FailureTotalTimeout:
		return types.StatusTestCasesTimedOut
	case types.FailureOutputLimit:
		return types.StatusTestCasesFailed
	case types.FailureInterrupted:
		return types.StatusAutograderFailure
	default:
		return types.StatusSuccess
	}
}

// FinalStatus derives the submission's final persisted status code from the
// runner's abort reason (if any) and the collected per-tag outcomes.
func (r *Runner) FinalStatus(results *CollectedResults) types.StatusCode {
	if r.failureCause != "" {
		return FailureStatusCode(r.failureCause)
	}
	if results.OK {
		return types.StatusSuccess
	}
	return types.StatusTestCasesFailed
}

func writeFailureCausePreamble(b *strings.Builder, cause types.FailureCause) {
	switch cause {
	case types.FailureBuildTimeout:
		b.WriteString("_(Grading process was interrupted due to a build timeout.)_\n\n")
	case types.FailureTestTimeout:
		b.WriteString("_(Grading process was interrupted due to a test timeout.)_\n\n")
	case types.FailureOutputLimit:
		b.WriteString("_(Grading process was interrupted due to an exceeded output length.)_\n\n")
	case types.FailureTotalTimeout:
		b.WriteString("_(Grading process timed out.)_\n\n")
	case types.FailureInterrupted:
		b.WriteString("_(Grading process was interrupted. Contact course staff.)_\n\n")
	}
}

func writeSymbolLegend(b *strings.Builder, md config.MDSettings) {
	fmt.Fprintf(b, "%s passed &nbsp;&nbsp; %s failed &nbsp;&nbsp; %s skipped &nbsp;&nbsp; %s build issue\n\n",
		md.SymbolOK, md.SymbolFailed, md.SymbolSkipped, md.SymbolBuild)
}

// collectTag renders one tag's section, branching on its recorded build
// outcome exactly as the build phase left it.
func (r *Runner) collectTag(ts *tagState, md config.MDSettings, details *[]string) (string, types.TagResultDocument) {
	var b strings.Builder
	fmt.Fprintf(&b, "\n## Tag: %s\n\n", ts.tag.Name)
	if len(ts.tag.DerivedFrom) > 0 {
		fmt.Fprintf(&b, "_(derived from: %s)_\n\n", strings.Join(ts.tag.DerivedFrom, ", "))
	}

	doc := types.TagResultDocument{Commit: r.Submission.GitHubCommit, TagName: ts.tag.Name}

	if ts.build == nil {
		b.WriteString("Grading was interupted prior to building project.\n")
		doc.Reason = "not built"
		return b.String(), doc
	}

	switch ts.build.Outcome {
	case types.BuildSourceNotFound:
		fmt.Fprintf(&b, "%s Source directory `%s` was not found.\n", md.SymbolBuild, ts.build.Reason)
		doc.Reason = "source not found"
		return b.String(), doc

	case types.BuildProhibitedFiles:
		fmt.Fprintf(&b, "%s Prohibited binary files were found:\n\n", md.SymbolBuild)
		for _, f := range ts.build.Files {
			fmt.Fprintf(&b, "- `%s`\n", f)
		}
		doc.Reason = "prohibited binary files"
		return b.String(), doc

	case types.BuildFailed:
		fmt.Fprintf(&b, "%s Build failed.\n\n", md.SymbolBuild)
		if ts.build.Reason != "" {
			fmt.Fprintf(&b, "%s\n\n", ts.build.Reason)
		}
		b.WriteString(markdown.PreformattedTruncated(ts.build.Stdout, md.TruncateLen))
		b.WriteByte('\n')
		b.WriteString(markdown.PreformattedTruncated(ts.build.Stderr, md.TruncateLen))
		doc.Reason = "build failed"
		return b.String(), doc

	case types.BuildTimeout:
		fmt.Fprintf(&b, "%s Build timed out.\n", md.SymbolBuild)
		doc.Reason = "build timed out"
		return b.String(), doc

	case types.BuildOutputLimitReached:
		fmt.Fprintf(&b, "%s Build output exceeded the configured limit.\n", md.SymbolBuild)
		doc.Reason = "build output limit exceeded"
		return b.String(), doc
	}

	var groupDocs []types.GroupResultDocument
	passed, total := 0, 0
	for _, root := range ts.tag.Roots {
		groupMD, groupDoc, p, t := r.collectGroup(root, ts.results, md, details)
		b.WriteString(groupMD)
		groupDocs = append(groupDocs, groupDoc)
		passed += p
		total += t
	}

	doc.TestResults = groupDocs
	doc.OK = passed == total

	if doc.OK {
		fmt.Fprintf(&b, "\nAll test cases passed for this tag! %s\n", md.SymbolTagSuccess)
	} else {
		b.WriteString("\nSome test cases failed.\n")
	}

	return b.String(), doc
}

// collectGroup recursively renders one test group: a title line with a
// status symbol and pass/total counts, then each leaf test (linked to its
// detail block when one survived the shown-failures cap), then subgroups.
func (r *Runner) collectGroup(
	group *types.TestGroup,
	results map[*types.Test]types.TestResult,
	md config.MDSettings,
	details *[]string,
) (string, types.GroupResultDocument, int, int) {
	var b strings.Builder
	passed, total := 0, 0
	var testDetails []string

	for _, test := range group.Tests {
		total++
		res := results[test]
		if res.Outcome == types.TestOK {
			passed++
			testDetails = append(testDetails, fmt.Sprintf("%s %s", md.SymbolOK, test.Name))
			continue
		}

		label := fmt.Sprintf("%s %s", md.SymbolFailed, test.Name)
		if res.Details != nil {
			*details = append(*details, renderTestFailureDetail(test, res, md.TruncateLen))
			label = fmt.Sprintf("%s [%s](#detail-summary-%d)", md.SymbolFailed, test.Name, len(*details))
		}
		testDetails = append(testDetails, label)
	}

	doc := types.GroupResultDocument{Name: group.Title}
	if len(group.Tests) > 0 {
		doc.TestInfo = &types.GroupTestInfo{TestsPassed: passed, TotalTests: total, TestDetails: testDetails}
	}

	groupTotal := total
	groupPassed := passed
	var subMarkdowns []string
	for _, sub := range group.Subgroups {
		subMD, subDoc, sp, st := r.collectGroup(sub, results, md, details)
		subMarkdowns = append(subMarkdowns, subMD)
		doc.Subgroups = append(doc.Subgroups, subDoc)
		groupPassed += sp
		groupTotal += st
	}

	symbol := md.SymbolOK
	if groupPassed < groupTotal {
		symbol = md.SymbolFailed
	}
	if groupTotal > 0 {
		fmt.Fprintf(&b, "%s %s (%d/%d tests passed)\n", symbol, group.Title, groupPassed, groupTotal)
	} else {
		fmt.Fprintf(&b, "%s %s\n", symbol, group.Title)
	}
	for _, l := range testDetails {
		fmt.Fprintf(&b, "- %s\n", l)
	}
	for _, subMD := range subMarkdowns {
		b.WriteString(subMD)
	}

	return b.String(), doc, groupPassed, groupTotal
}

func renderTestFailureDetail(test *types.Test, res types.TestResult, truncateLen int) string {
	d := res.Details
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**: %s\n\n", test.Name, d.Description)

	if len(d.CommandLine) > 0 {
		fmt.Fprintf(&b, "Command: `%s`\n\n", strings.Join(d.CommandLine, " "))
	}
	if d.Stdin != "" {
		b.WriteString("Stdin:\n" + markdown.PreformattedTruncated(d.Stdin, truncateLen) + "\n\n")
	}
	if d.InputFile != "" {
		fmt.Fprintf(&b, "Input file: `%s`\n\n", d.InputFile)
	}
	if d.ExpectedCode != nil {
		fmt.Fprintf(&b, "Expected exit code %d, got %d.\n\n", *d.ExpectedCode, *d.ReceivedCode)
	}
	if len(d.ExpectedStdout) > 0 {
		b.WriteString("Expected stdout (one of):\n\n")
		for _, e := range d.ExpectedStdout {
			b.WriteString(markdown.PreformattedTruncated(e, truncateLen) + "\n\n")
		}
	}
	if len(d.ExpectedStdout) > 0 || d.ReceivedStdout != "" {
		b.WriteString("Received stdout:\n\n" + markdown.PreformattedTruncated(d.ReceivedStdout, truncateLen) + "\n\n")
	}
	if len(d.ExpectedStderr) > 0 {
		b.WriteString("Expected stderr (one of):\n\n")
		for _, e := range d.ExpectedStderr {
			b.WriteString(markdown.PreformattedTruncated(e, truncateLen) + "\n\n")
		}
	}
	if len(d.ExpectedStderr) > 0 || d.ReceivedStderr != "" {
		b.WriteString("Received stderr:\n\n" + markdown.PreformattedTruncated(d.ReceivedStderr, truncateLen) + "\n\n")
	}
	if d.Trimmed {
		b.WriteString("_(comparison trimmed surrounding whitespace)_\n\n")
	}
	if d.StrippedWS {
		b.WriteString("_(comparison stripped all whitespace)_\n\n")
	}
	if d.GeneratedAsm != "" {
		b.WriteString("Generated assembly:\n\n" + markdown.PreformattedTruncated(d.GeneratedAsm, truncateLen) + "\n\n")
	}

	return b.String()
}
