package grader

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kth-id2202/autograder/pkg/types"
)

func TestShadowTimestampIncludesSubmissionID(t *testing.T) {
	r := &Runner{Submission: &types.Submission{ID: 42}}
	stamp := r.shadowTimestamp()
	assert.True(t, strings.HasSuffix(stamp, "_42"))
	assert.Len(t, strings.SplitN(stamp, "_", 2)[0], len("20060102T150405Z"))
}

func TestShadowTimestampDiffersBySubmissionID(t *testing.T) {
	a := (&Runner{Submission: &types.Submission{ID: 1}}).shadowTimestamp()
	b := (&Runner{Submission: &types.Submission{ID: 2}}).shadowTimestamp()
	assert.NotEqual(t, a, b)
}
