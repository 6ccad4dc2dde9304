package grader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kth-id2202/autograder/pkg/config"
	"github.com/kth-id2202/autograder/pkg/testconfig"
	"github.com/kth-id2202/autograder/pkg/types"
)

func defaultTestRunnerSettings(t *testing.T) config.RunnerSettings {
	t.Helper()
	return config.RunnerSettings{
		PodmanNetworkPrefix: "autograder-test",
		MountRepo:           "/mnt/repo",
		MountTests:          "/mnt/tests",
		WorkspaceDir:        t.TempDir(),
	}
}

func testConfigWithGroups() *testconfig.TestConfig {
	return &testconfig.TestConfig{
		Tags: map[string]*types.Tag{
			"lab1": {Name: "lab1"},
			"lab2": {Name: "lab2"},
		},
		TagGroups: map[string][]string{
			"all-labs": {"lab1", "lab2", "lab1"},
		},
	}
}

func TestFlattenTestsDepthFirst(t *testing.T) {
	leaf1 := &types.Test{Name: "a"}
	leaf2 := &types.Test{Name: "b"}
	leaf3 := &types.Test{Name: "c"}
	sub := &types.TestGroup{Tests: []*types.Test{leaf2}}
	root := &types.TestGroup{Tests: []*types.Test{leaf1}, Subgroups: []*types.TestGroup{sub}}
	root2 := &types.TestGroup{Tests: []*types.Test{leaf3}}

	got := flattenTests([]*types.TestGroup{root, root2})
	assert.Equal(t, []*types.Test{leaf1, leaf2, leaf3}, got)
}

func TestResolveRequestedTagsConcreteTag(t *testing.T) {
	cfg := testConfigWithGroups()
	tags, err := resolveRequestedTags(cfg, []string{"lab1"})
	require.NoError(t, err)
	require.Len(t, tags, 1)
	assert.Equal(t, "lab1", tags[0].Name)
}

func TestResolveRequestedTagsGroupExpandsAndDedupes(t *testing.T) {
	cfg := testConfigWithGroups()
	tags, err := resolveRequestedTags(cfg, []string{"all-labs"})
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.Equal(t, "lab1", tags[0].Name)
	assert.Equal(t, "lab2", tags[1].Name)
}

func TestResolveRequestedTagsDeduplicatesAcrossNames(t *testing.T) {
	cfg := testConfigWithGroups()
	tags, err := resolveRequestedTags(cfg, []string{"lab1", "all-labs"})
	require.NoError(t, err)
	require.Len(t, tags, 2)
	assert.ElementsMatch(t, []string{"all-labs", "lab1"}, tags[0].DerivedFrom)
}

func TestResolveRequestedTagsUnknownNameErrors(t *testing.T) {
	cfg := testConfigWithGroups()
	_, err := resolveRequestedTags(cfg, []string{"nope"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTag)
}

func TestKnownTagsMarkdownListsTagsAndGroups(t *testing.T) {
	cfg := testConfigWithGroups()
	md := knownTagsMarkdown(cfg)
	assert.Contains(t, md, "`lab1`")
	assert.Contains(t, md, "`lab2`")
	assert.Contains(t, md, "`all-labs` (group)")
}

func TestAllocateWorkspaceCreatesUniqueDir(t *testing.T) {
	root := t.TempDir()
	dir, err := allocateWorkspace(root, 3)
	require.NoError(t, err)
	assert.DirExists(t, dir)
	assert.Equal(t, root, filepath.Dir(dir))

	dir2, err := allocateWorkspace(root, 3)
	require.NoError(t, err)
	assert.NotEqual(t, dir, dir2)
}

func TestAllocateWorkspaceFailsOnUnwritableRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "does-not-exist")
	_, err := allocateWorkspace(root, 1)
	require.Error(t, err)
}

func TestNewRunnerUnknownTagReturnsAdmissionErrorWithoutWorkspace(t *testing.T) {
	cfg := testConfigWithGroups()
	sub := &types.Submission{ID: 1, GradingTags: []string{"nonexistent"}}

	settings := defaultTestRunnerSettings(t)
	runner, admitErr := NewRunner(nil, 1, sub, cfg, nil, settings)
	assert.Nil(t, runner)
	require.NotNil(t, admitErr)
	assert.ErrorIs(t, admitErr.Err, ErrUnknownTag)

	entries, err := os.ReadDir(settings.WorkspaceDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
