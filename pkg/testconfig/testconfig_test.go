package testconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kth-id2202/autograder/pkg/types"
)

func writeFile(t *testing.T, path, contents string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}

func buildFixture(t *testing.T) string {
	t.Helper()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "tests.toml"), `
[default]
timeout_build = 30
timeout_test = 5
timeout_total = 600
max_output = 4000
shown_failures = 3
build_cmd = ["make"]
build_prohibit_binary_files = true
build_allowed_binary_files = []
build_allowed_binary_mimetypes = []

[default.kind.run]
auto_input_files = [".in"]
code = 0

[default.kind.gen_asm_and_run]
bin = ""

[default.kind.check_file_exists]
path = ""

[tags.base]
dirs = ["base"]
[tags.base.build]
srcdir = "src"

[tags.extended]
extends = "base"
dirs = ["extra"]

[tag_groups]
everything = ["base", "extended"]
`)

	writeFile(t, filepath.Join(root, "base", "config.toml"), `
title = "Base tests"
description = "line one\nline two"

[test]
kind = "run"
timeout = 2
`)

	writeFile(t, filepath.Join(root, "base", "case1.test.toml"), `
title = "first case"
`)
	writeFile(t, filepath.Join(root, "base", "case1.in"), "hello\n")

	writeFile(t, filepath.Join(root, "base", "sub", "config.toml"), `
title = "nested group"
`)
	writeFile(t, filepath.Join(root, "base", "sub", "case2.test.toml"), `
title = "second case"

[test]
options = { code = 1 }
`)

	writeFile(t, filepath.Join(root, "extra", "config.toml"), `
title = "Extra tests"

[test]
kind = "check_file_exists"
`)
	writeFile(t, filepath.Join(root, "extra", "case3.test.toml"), `
title = "file must exist"

[test]
options = { path = "output.txt" }
`)

	return filepath.Join(root, "tests.toml")
}

func TestLoadResolvesExtendedTagAndScansGroups(t *testing.T) {
	path := buildFixture(t)
	cfg, err := Load(path)
	require.NoError(t, err)

	require.Contains(t, cfg.Tags, "base")
	require.Contains(t, cfg.Tags, "extended")

	base := cfg.Tags["base"]
	require.Equal(t, "src", base.Build.SrcDir)
	require.Len(t, base.Roots, 1)
	require.Equal(t, "Base tests", base.Roots[0].Title)
	require.Equal(t, "line one line two", base.Roots[0].Description)
	require.Len(t, base.Roots[0].Tests, 1)
	require.Equal(t, "case1", base.Roots[0].Tests[0].Name)
	require.Equal(t, types.TestKindRun, base.Roots[0].Tests[0].Kind)
	require.Len(t, base.Roots[0].Tests[0].InputFiles, 1)

	require.Len(t, base.Roots[0].Subgroups, 1)
	require.Equal(t, "1. nested group", base.Roots[0].Subgroups[0].Title)

	extended := cfg.Tags["extended"]
	require.Equal(t, "src", extended.Build.SrcDir, "extended tag inherits build config from base")
	require.Len(t, extended.Roots, 2, "extended tag's dirs are appended after the base tag's dirs")
}

func TestResolveExpandsTagGroupWithDedup(t *testing.T) {
	path := buildFixture(t)
	cfg, err := Load(path)
	require.NoError(t, err)

	resolved, err := cfg.Resolve("everything")
	require.NoError(t, err)
	require.Len(t, resolved, 2)
	require.Equal(t, []string{"everything"}, resolved[0].DerivedFrom)

	single, err := cfg.Resolve("base")
	require.NoError(t, err)
	require.Len(t, single, 1)
	require.Equal(t, []string{"base"}, single[0].DerivedFrom)

	_, err = cfg.Resolve("nonexistent")
	require.Error(t, err)
}

func TestUnknownOptionKeyIsRejected(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "tests.toml"), `
[default]
timeout_build = 10
timeout_test = 5
timeout_total = 60
max_output = 100
shown_failures = 1
build_cmd = ["make"]
build_prohibit_binary_files = false
build_allowed_binary_files = []
build_allowed_binary_mimetypes = []

[default.kind.run]
code = 0

[default.kind.gen_asm_and_run]
[default.kind.check_file_exists]

[tags.only]
dirs = ["dir"]
[tags.only.build]
srcdir = "src"
`)
	writeFile(t, filepath.Join(root, "dir", "config.toml"), `title = "group"`)
	writeFile(t, filepath.Join(root, "dir", "bad.test.toml"), `
title = "bad case"

[test]
kind = "run"
options = { not_a_real_key = 1 }
`)

	_, err := Load(filepath.Join(root, "tests.toml"))
	require.ErrorContains(t, err, "invalid test.option key")
}

func TestMissingGroupTitleIsRejected(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "tests.toml"), `
[default]
timeout_build = 10
timeout_test = 5
timeout_total = 60
max_output = 100
shown_failures = 1
build_cmd = ["make"]
build_prohibit_binary_files = false
build_allowed_binary_files = []
build_allowed_binary_mimetypes = []

[default.kind.run]
[default.kind.gen_asm_and_run]
[default.kind.check_file_exists]

[tags.only]
dirs = ["dir"]
[tags.only.build]
srcdir = "src"
`)
	writeFile(t, filepath.Join(root, "dir", "config.toml"), `description = "no title here"`)

	_, err := Load(filepath.Join(root, "tests.toml"))
	require.ErrorContains(t, err, "missing title")
}
