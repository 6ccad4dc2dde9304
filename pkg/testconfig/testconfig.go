package testconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"

	"github.com/kth-id2202/autograder/pkg/markdown"
	"github.com/kth-id2202/autograder/pkg/types"
)

// Defaults holds the root [default] table: fallback values every tag,
// test group and test case inherits unless it overrides them.
type Defaults struct {
	TimeoutBuild                time.Duration
	TimeoutTest                 time.Duration
	TimeoutTotal                time.Duration
	MaxOutput                   int
	ShownFailures               int
	BuildCmd                    []string
	BuildProhibitBinaryFiles    bool
	BuildAllowedBinaryFiles     []string
	BuildAllowedBinaryMimetypes []string
	Kind                        map[types.TestKind]map[string]any
}

// TestConfig is the fully resolved test tree for one settings file.
type TestConfig struct {
	Defaults  Defaults
	Tags      map[string]*types.Tag
	TagGroups map[string][]string
}

// Resolve expands name, which may name a concrete tag or a tag-group alias,
// into the ordered, de-duplicated list of concrete tags it stands for. Each
// returned tag records name in DerivedFrom so callers can trace which alias
// produced it.
func (c *TestConfig) Resolve(name string) ([]*types.Tag, error) {
	if tag, ok := c.Tags[name]; ok {
		cp := *tag
		cp.DerivedFrom = []string{name}
		return []*types.Tag{&cp}, nil
	}

	if list, ok := c.TagGroups[name]; ok {
		seen := make(map[string]bool, len(list))
		out := make([]*types.Tag, 0, len(list))
		for _, tname := range list {
			if seen[tname] {
				continue
			}
			seen[tname] = true
			base, ok := c.Tags[tname]
			if !ok {
				return nil, fmt.Errorf("testconfig: tag group %q references unknown tag %q", name, tname)
			}
			cp := *base
			cp.DerivedFrom = []string{name}
			out = append(out, &cp)
		}
		return out, nil
	}

	return nil, fmt.Errorf("testconfig: unknown tag or tag group %q", name)
}

type rawDefault struct {
	TimeoutBuild                int                       `toml:"timeout_build"`
	TimeoutTest                 int                       `toml:"timeout_test"`
	TimeoutTotal                int                       `toml:"timeout_total"`
	MaxOutput                   int                       `toml:"max_output"`
	ShownFailures               int                       `toml:"shown_failures"`
	BuildCmd                    []string                  `toml:"build_cmd"`
	BuildProhibitBinaryFiles    bool                      `toml:"build_prohibit_binary_files"`
	BuildAllowedBinaryFiles     []string                  `toml:"build_allowed_binary_files"`
	BuildAllowedBinaryMimetypes []string                  `toml:"build_allowed_binary_mimetypes"`
	Kind                        map[string]map[string]any `toml:"kind"`
}

type rawRoot struct {
	Default   rawDefault                `toml:"default"`
	Tags      map[string]map[string]any `toml:"tags"`
	TagGroups map[string][]string       `toml:"tag_groups"`
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func buildDefaults(raw rawDefault) *Defaults {
	return &Defaults{
		TimeoutBuild:                seconds(raw.TimeoutBuild),
		TimeoutTest:                 seconds(raw.TimeoutTest),
		TimeoutTotal:                seconds(raw.TimeoutTotal),
		MaxOutput:                   raw.MaxOutput,
		ShownFailures:               raw.ShownFailures,
		BuildCmd:                    raw.BuildCmd,
		BuildProhibitBinaryFiles:    raw.BuildProhibitBinaryFiles,
		BuildAllowedBinaryFiles:     raw.BuildAllowedBinaryFiles,
		BuildAllowedBinaryMimetypes: raw.BuildAllowedBinaryMimetypes,
		Kind: map[types.TestKind]map[string]any{
			types.TestKindRun:             raw.Kind["run"],
			types.TestKindGenAsmAndRun:    raw.Kind["gen_asm_and_run"],
			types.TestKindCheckFileExists: raw.Kind["check_file_exists"],
		},
	}
}

// --- dynamic TOML-table accessors -----------------------------------------
//
// Tag entries are shaped differently depending on whether they extend
// another tag, so they are decoded generically (map[string]any) and picked
// apart here rather than forced through one rigid struct.

func asString(m map[string]any, key string) (string, bool) {
	v, ok := m[key].(string)
	return v, ok
}

func asStringSlice(m map[string]any, key string) ([]string, bool) {
	raw, ok := m[key].([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func asBool(m map[string]any, key string) (bool, bool) {
	v, ok := m[key].(bool)
	return v, ok
}

func asTable(m map[string]any, key string) (map[string]any, bool) {
	v, ok := m[key].(map[string]any)
	return v, ok
}

// --- tag resolution ---------------------------------------------------------

type resolvedTagConfig struct {
	Dirs  []string
	Build types.TagBuildConfig
}

func buildTagBuildConfig(t map[string]any, defaults *Defaults) types.TagBuildConfig {
	srcdir, _ := asString(t, "srcdir")

	cmd, ok := asStringSlice(t, "cmd")
	if !ok {
		cmd = defaults.BuildCmd
	}

	timeout := defaults.TimeoutBuild
	if raw, ok := t["timeout"].(int64); ok {
		timeout = seconds(int(raw))
	}

	prohibit, ok := asBool(t, "prohibit_binary_files")
	if !ok {
		prohibit = defaults.BuildProhibitBinaryFiles
	}

	allowedFiles, ok := asStringSlice(t, "allowed_binary_files")
	if !ok {
		allowedFiles = defaults.BuildAllowedBinaryFiles
	}

	allowedMimes, ok := asStringSlice(t, "allowed_binary_mimetypes")
	if !ok {
		allowedMimes = defaults.BuildAllowedBinaryMimetypes
	}

	return types.TagBuildConfig{
		SrcDir:                srcdir,
		Cmd:                   cmd,
		Timeout:               timeout,
		ProhibitBinaryFiles:   prohibit,
		AllowedBinaryFiles:    allowedFiles,
		AllowedBinaryMimetype: allowedMimes,
	}
}

// resolveTagConfigs repeatedly scans the pending tag table, instantiating
// every tag whose dependencies (if it extends another tag) are already
// resolved, until a full pass makes no progress.
func resolveTagConfigs(pending map[string]map[string]any, defaults *Defaults) (map[string]*resolvedTagConfig, error) {
	resolved := make(map[string]*resolvedTagConfig, len(pending))
	remaining := make(map[string]map[string]any, len(pending))
	for k, v := range pending {
		remaining[k] = v
	}

	for len(remaining) > 0 {
		progressed := false

		for name, table := range remaining {
			if extends, hasExtends := asString(table, "extends"); hasExtends {
				base, ok := resolved[extends]
				if !ok {
					continue // base not yet resolved; retry on a later pass
				}
				dirs, _ := asStringSlice(table, "dirs")
				combined := make([]string, 0, len(base.Dirs)+len(dirs))
				combined = append(combined, base.Dirs...)
				combined = append(combined, dirs...)
				resolved[name] = &resolvedTagConfig{Dirs: combined, Build: base.Build}
				delete(remaining, name)
				progressed = true
				continue
			}

			dirs, _ := asStringSlice(table, "dirs")
			buildTable, _ := asTable(table, "build")
			resolved[name] = &resolvedTagConfig{Dirs: dirs, Build: buildTagBuildConfig(buildTable, defaults)}
			delete(remaining, name)
			progressed = true
		}

		if !progressed {
			names := make([]string, 0, len(remaining))
			for k := range remaining {
				names = append(names, k)
			}
			sort.Strings(names)
			return nil, fmt.Errorf("testconfig: could not resolve tag configuration, unresolved tags (missing or cyclic extends): %v", names)
		}
	}

	return resolved, nil
}

func instantiateTags(resolved map[string]*resolvedTagConfig, defaults *Defaults, rootDir string) (map[string]*types.Tag, error) {
	tags := make(map[string]*types.Tag, len(resolved))
	for name, rc := range resolved {
		tag := &types.Tag{Name: name, Build: rc.Build}
		for _, d := range rc.Dirs {
			absdir := filepath.Join(rootDir, d)
			group, err := buildTestGroup(absdir, defaults, rawTestDefaults{}, nil)
			if err != nil {
				return nil, fmt.Errorf("testconfig: tag %q: %w", name, err)
			}
			tag.Roots = append(tag.Roots, group)
		}
		tags[name] = tag
	}
	return tags, nil
}

func validateTagGroups(raw map[string][]string, tags map[string]*types.Tag) (map[string][]string, error) {
	for gname, list := range raw {
		if _, exists := tags[gname]; exists {
			return nil, fmt.Errorf("testconfig: tag group %q collides with an existing tag name", gname)
		}
		if len(list) == 0 {
			return nil, fmt.Errorf("testconfig: tag group %q is empty", gname)
		}
		for _, tname := range list {
			if _, ok := tags[tname]; !ok {
				return nil, fmt.Errorf("testconfig: tag group %q references unknown tag %q", gname, tname)
			}
		}
	}
	return raw, nil
}

// --- test group / test case scanning ---------------------------------------

type rawTestDefaults struct {
	Kind    *string        `toml:"kind"`
	Timeout *int           `toml:"timeout"`
	Options map[string]any `toml:"options"`
}

func mergeTestDefaults(base rawTestDefaults, override *rawTestDefaults) rawTestDefaults {
	if override == nil {
		return base
	}
	merged := base
	if override.Kind != nil {
		merged.Kind = override.Kind
	}
	if override.Timeout != nil {
		merged.Timeout = override.Timeout
	}
	if override.Options != nil {
		opts := make(map[string]any, len(base.Options)+len(override.Options))
		for k, v := range base.Options {
			opts[k] = v
		}
		for k, v := range override.Options {
			opts[k] = v
		}
		merged.Options = opts
	}
	return merged
}

type rawTestFile struct {
	Title       *string          `toml:"title"`
	Description *string          `toml:"description"`
	Include     []string         `toml:"include"`
	Test        *rawTestDefaults `toml:"test"`
}

func readTOML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

func titlePrefix(numbering []int) string {
	if len(numbering) == 0 {
		return ""
	}
	var b strings.Builder
	for _, n := range numbering {
		fmt.Fprintf(&b, "%d.", n)
	}
	b.WriteByte(' ')
	return b.String()
}

func findInputFiles(suffixes []string, dir, prefix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s for input files: %w", dir, err)
	}

	var found []string
	for _, e := range entries {
		name := e.Name()
		for _, suffix := range suffixes {
			if strings.HasSuffix(name, suffix) && strings.TrimSuffix(name, suffix) == prefix {
				found = append(found, filepath.Join(dir, name))
			}
		}
	}
	return found, nil
}

// buildTestGroup scans dir: a config.toml supplies the group's title,
// description and inherited test defaults, entries ending in .test.toml
// become leaf tests, and subdirectories (plus any directories named in
// config.toml's include list) become numbered subgroups.
func buildTestGroup(dir string, defaults *Defaults, testDefaults rawTestDefaults, numbering []int) (*types.TestGroup, error) {
	configPath := filepath.Join(dir, "config.toml")
	var raw rawTestFile
	if err := readTOML(configPath, &raw); err != nil {
		return nil, err
	}

	groupDefaults := mergeTestDefaults(testDefaults, raw.Test)

	if raw.Title == nil {
		return nil, fmt.Errorf("missing title for test group under %s", configPath)
	}

	group := &types.TestGroup{Title: titlePrefix(numbering) + *raw.Title}
	if raw.Description != nil {
		group.Description = markdown.SingleLinefeedToSpace(*raw.Description)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}

	groupNumber := 0
	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir():
			groupNumber++
			subgroup, err := buildTestGroup(filepath.Join(dir, name), defaults, groupDefaults, append(append([]int{}, numbering...), groupNumber))
			if err != nil {
				return nil, err
			}
			group.Subgroups = append(group.Subgroups, subgroup)

		case strings.HasSuffix(name, ".test.toml"):
			prefix := strings.TrimSuffix(name, ".test.toml")
			test, err := buildTest(filepath.Join(dir, name), dir, prefix, defaults, groupDefaults, group.Description)
			if err != nil {
				return nil, err
			}
			group.Tests = append(group.Tests, test)
		}
	}

	for _, included := range raw.Include {
		absIncluded := filepath.Join(dir, included)
		info, err := os.Stat(absIncluded)
		if err != nil || !info.IsDir() {
			return nil, fmt.Errorf("the included test %s is not a directory", included)
		}
		groupNumber++
		subgroup, err := buildTestGroup(absIncluded, defaults, groupDefaults, append(append([]int{}, numbering...), groupNumber))
		if err != nil {
			return nil, err
		}
		group.Subgroups = append(group.Subgroups, subgroup)
	}

	return group, nil
}

func buildTest(testFilePath, dir, prefix string, defaults *Defaults, groupDefaults rawTestDefaults, groupDescription string) (*types.Test, error) {
	var raw rawTestFile
	if err := readTOML(testFilePath, &raw); err != nil {
		return nil, err
	}

	testOpts := mergeTestDefaults(groupDefaults, raw.Test)
	if testOpts.Kind == nil {
		return nil, fmt.Errorf("no test kind provided for %s", testFilePath)
	}

	kind := types.TestKind(*testOpts.Kind)
	kindDefaults, ok := defaults.Kind[kind]
	if !ok {
		return nil, fmt.Errorf("invalid test kind identifier %q in %s", *testOpts.Kind, testFilePath)
	}

	finalOpts := make(map[string]any, len(kindDefaults))
	for k, v := range kindDefaults {
		finalOpts[k] = v
	}
	for k, v := range testOpts.Options {
		if _, exists := finalOpts[k]; !exists {
			return nil, fmt.Errorf("invalid test.option key %q for test kind %q in file: %s", k, kind, testFilePath)
		}
		finalOpts[k] = v
	}

	var inputFiles []string
	if kind == types.TestKindRun || kind == types.TestKindGenAsmAndRun {
		suffixes, _ := asStringSlice(finalOpts, "auto_input_files")
		found, err := findInputFiles(suffixes, dir, prefix)
		if err != nil {
			return nil, err
		}
		switch kind {
		case types.TestKindRun:
			if len(found) > 1 {
				return nil, fmt.Errorf("found multiple input files for test case %s; only a single input file is allowed", testFilePath)
			}
		case types.TestKindGenAsmAndRun:
			if len(found) != 1 {
				return nil, fmt.Errorf("must provide exactly one input file for test case %s, found %d", testFilePath, len(found))
			}
		}
		inputFiles = found
	}

	description := groupDescription
	if raw.Description != nil {
		description = markdown.SingleLinefeedToSpace(*raw.Description)
	}

	timeout := defaults.TimeoutTest
	if testOpts.Timeout != nil {
		timeout = seconds(*testOpts.Timeout)
	}

	return &types.Test{
		Name:        prefix,
		Description: description,
		Timeout:     timeout,
		Kind:        kind,
		Options:     finalOpts,
		InputFiles:  inputFiles,
	}, nil
}

// Load reads and fully resolves the test configuration rooted at path.
func Load(path string) (*TestConfig, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("testconfig: resolving %q: %w", path, err)
	}

	var raw rawRoot
	if err := readTOML(absPath, &raw); err != nil {
		return nil, fmt.Errorf("testconfig: %w", err)
	}

	defaults := buildDefaults(raw.Default)
	rootDir := filepath.Dir(absPath)

	resolved, err := resolveTagConfigs(raw.Tags, defaults)
	if err != nil {
		return nil, err
	}

	tags, err := instantiateTags(resolved, defaults, rootDir)
	if err != nil {
		return nil, err
	}

	tagGroups, err := validateTagGroups(raw.TagGroups, tags)
	if err != nil {
		return nil, err
	}

	return &TestConfig{Defaults: *defaults, Tags: tags, TagGroups: tagGroups}, nil
}
