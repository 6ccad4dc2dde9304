package markdown

import "strings"

var escapeReplacer = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
)

// Preformatted escapes s for safe embedding and wraps it in a <pre> block.
func Preformatted(s string) string {
	return "<pre>\n" + escapeReplacer.Replace(s) + "\n</pre>"
}

const truncationMarker = "\nTRUNCATED\n"

// PreformattedTruncated behaves like Preformatted, except that when s is
// longer than cap bytes it keeps a head of ceil(cap/2) bytes and a tail of
// the remaining cap bytes around a literal TRUNCATED marker, so the
// preformatted block never embeds more than approximately cap bytes of the
// original content.
func PreformattedTruncated(s string, cap int) string {
	return Preformatted(truncate(s, cap))
}

func truncate(s string, cap int) string {
	if cap <= 0 || len(s) <= cap {
		return s
	}
	head := (cap + 1) / 2
	tail := cap - head
	if head > len(s) {
		head = len(s)
	}
	tailStart := len(s) - tail
	if tailStart < head {
		tailStart = head
	}
	return s[:head] + truncationMarker + s[tailStart:]
}

// SingleLinefeedToSpace replaces every lone '\n' (one not part of a run of
// two or more consecutive newlines) with a space. Runs of two or more
// consecutive newlines are preserved verbatim. The transform is idempotent:
// applying it twice yields the same result as applying it once, since no
// run of length 1 remains after the first pass.
func SingleLinefeedToSpace(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	runes := []rune(s)
	n := len(runes)
	for i := 0; i < n; {
		if runes[i] != '\n' {
			b.WriteRune(runes[i])
			i++
			continue
		}
		j := i
		for j < n && runes[j] == '\n' {
			j++
		}
		runLen := j - i
		if runLen == 1 {
			b.WriteRune(' ')
		} else {
			b.WriteString(strings.Repeat("\n", runLen))
		}
		i = j
	}
	return b.String()
}
