package markdown

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPreformattedEscapesAndRoundTrips(t *testing.T) {
	escapeFree := "plain output with no special characters at all"
	require.Equal(t, "<pre>\n"+escapeFree+"\n</pre>", Preformatted(escapeFree))
}

func TestPreformattedEscapeMap(t *testing.T) {
	got := Preformatted("a<b>c&d")
	require.Equal(t, "<pre>\na&lt;b&gt;c&amp;d\n</pre>", got)
}

func TestTruncateBelowCapIsUnchanged(t *testing.T) {
	s := "short"
	require.Equal(t, Preformatted(s), PreformattedTruncated(s, 100))
}

func TestTruncateAboveCapHasMarkerAndApproxLength(t *testing.T) {
	s := strings.Repeat("x", 1000)
	out := truncate(s, 100)

	require.Contains(t, out, "TRUNCATED")
	require.Equal(t, 1, strings.Count(out, "TRUNCATED"))

	withoutMarker := strings.Replace(out, truncationMarker, "", 1)
	require.InDelta(t, 100, len(withoutMarker), 1)
}

func TestTruncateOddCap(t *testing.T) {
	s := strings.Repeat("y", 1000)
	out := truncate(s, 101)
	withoutMarker := strings.Replace(out, truncationMarker, "", 1)
	require.InDelta(t, 101, len(withoutMarker), 1)
}

func TestSingleLinefeedToSpaceReplacesLoneNewlines(t *testing.T) {
	in := "a\nb\n\nc\n\n\nd"
	out := SingleLinefeedToSpace(in)
	require.Equal(t, "a b\n\nc\n\n\nd", out)
}

func TestSingleLinefeedToSpaceIsIdempotent(t *testing.T) {
	in := "a\nb\n\nc\nd\n\n\ne"
	once := SingleLinefeedToSpace(in)
	twice := SingleLinefeedToSpace(once)
	require.Equal(t, once, twice)
}

func TestSingleLinefeedToSpacePreservesRunsOfTwoOrMore(t *testing.T) {
	in := "line1\n\nline2"
	require.Equal(t, in, SingleLinefeedToSpace(in))
}
