package loader

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/domotruc/jmqtt-test/pkg/version"
)

// ParseTestCase parses a scenario from YAML bytes.
func ParseTestCase(data []byte) (*TestCase, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	var tc TestCase
	if doc.Kind != 0 {
		if err := doc.Decode(&tc); err != nil {
			return nil, &LoadError{Message: "failed to parse YAML", Cause: err}
		}
	}

	if tc.ID == "" {
		return nil, &LoadError{Message: "test case ID is required"}
	}
	if len(tc.Steps) == 0 {
		return nil, &LoadError{Message: "test case must have at least one step"}
	}
	if tc.Timeout != "" {
		if _, err := time.ParseDuration(tc.Timeout); err != nil {
			return nil, &LoadError{Line: keyLine(&doc, "timeout"), Message: "invalid timeout", Cause: err}
		}
	}
	if tc.MinVersion != "" {
		if _, err := version.Parse(tc.MinVersion); err != nil {
			return nil, &LoadError{Line: keyLine(&doc, "min_version"), Message: "invalid min_version", Cause: err}
		}
	}

	lines := stepLines(&doc)
	for i, s := range tc.Steps {
		var line int
		if i < len(lines) {
			line = lines[i]
		}
		if s.Action == "" {
			return nil, &LoadError{Line: line, Message: "step has no action"}
		}
		if s.Timeout != "" {
			if _, err := time.ParseDuration(s.Timeout); err != nil {
				return nil, &LoadError{Line: line, Message: "invalid step timeout", Cause: err}
			}
		}
	}

	return &tc, nil
}

// keyLine returns the line of a top-level key, 0 when absent.
func keyLine(doc *yaml.Node, key string) int {
	root := mapping(doc)
	if root == nil {
		return 0
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			return root.Content[i].Line
		}
	}
	return 0
}

// stepLines returns the line of every step in document order.
func stepLines(doc *yaml.Node) []int {
	root := mapping(doc)
	if root == nil {
		return nil
	}
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value != "steps" {
			continue
		}
		seq := root.Content[i+1]
		lines := make([]int, len(seq.Content))
		for j, n := range seq.Content {
			lines[j] = n.Line
		}
		return lines
	}
	return nil
}

func mapping(doc *yaml.Node) *yaml.Node {
	n := doc
	if n.Kind == yaml.DocumentNode && len(n.Content) > 0 {
		n = n.Content[0]
	}
	if n.Kind != yaml.MappingNode {
		return nil
	}
	return n
}

// LoadTestCase loads a scenario from a file.
func LoadTestCase(path string) (*TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{
			File:    path,
			Message: "failed to read file",
			Cause:   err,
		}
	}

	tc, err := ParseTestCase(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
			return nil, le
		}
		return nil, &LoadError{File: path, Message: err.Error()}
	}

	return tc, nil
}

// LoadDirectory loads all scenarios from a directory.
// Only files with .yaml or .yml extensions are loaded.
func LoadDirectory(dir string) ([]*TestCase, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, &LoadError{
			File:    dir,
			Message: "failed to read directory",
			Cause:   err,
		}
	}

	var cases []*TestCase
	seen := make(map[string]string)
	for _, entry := range entries {
		if entry.IsDir() || !isScenarioFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		tc, err := LoadTestCase(path)
		if err != nil {
			return nil, err
		}
		if err := checkDuplicate(seen, tc, path); err != nil {
			return nil, err
		}
		cases = append(cases, tc)
	}

	return cases, nil
}

// LoadDirectoryRecursive loads all scenarios from a directory and
// subdirectories.
func LoadDirectoryRecursive(dir string) ([]*TestCase, error) {
	var cases []*TestCase
	seen := make(map[string]string)

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isScenarioFile(path) {
			return nil
		}

		tc, err := LoadTestCase(path)
		if err != nil {
			return err
		}
		if err := checkDuplicate(seen, tc, path); err != nil {
			return err
		}
		cases = append(cases, tc)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return cases, nil
}

// LoadSuite loads a suite file holding several scenarios under "cases".
func LoadSuite(path string) (*TestSuite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}
	var suite TestSuite
	if err := yaml.Unmarshal(data, &suite); err != nil {
		return nil, &LoadError{File: path, Message: "failed to parse YAML", Cause: err}
	}
	seen := make(map[string]string)
	for _, tc := range suite.Cases {
		if tc.ID == "" {
			return nil, &LoadError{File: path, Message: "test case ID is required"}
		}
		if len(tc.Steps) == 0 {
			return nil, &LoadError{File: path, Message: "test case " + tc.ID + " must have at least one step"}
		}
		if err := checkDuplicate(seen, tc, path); err != nil {
			return nil, err
		}
	}
	if suite.Name == "" {
		suite.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &suite, nil
}

func isScenarioFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}

func checkDuplicate(seen map[string]string, tc *TestCase, path string) error {
	if first, ok := seen[tc.ID]; ok {
		return &LoadError{File: path, Message: "duplicate test case ID " + tc.ID + " (first in " + first + ")"}
	}
	seen[tc.ID] = path
	return nil
}

// FilterByTags keeps the scenarios carrying at least one of include (all
// when include is empty) and none of exclude.
func FilterByTags(cases []*TestCase, include, exclude []string) []*TestCase {
	var result []*TestCase
	for _, tc := range cases {
		if len(include) > 0 && !hasAny(tc, include) {
			continue
		}
		if hasAny(tc, exclude) {
			continue
		}
		result = append(result, tc)
	}
	return result
}

// FilterByID keeps the scenarios whose ID matches one of the patterns
// (filepath.Match syntax, e.g. "TC-JSON-*").
func FilterByID(cases []*TestCase, patterns []string) []*TestCase {
	if len(patterns) == 0 {
		return cases
	}
	var result []*TestCase
	for _, tc := range cases {
		for _, p := range patterns {
			if ok, _ := filepath.Match(p, tc.ID); ok {
				result = append(result, tc)
				break
			}
		}
	}
	return result
}

func hasAny(tc *TestCase, tags []string) bool {
	for _, tag := range tags {
		if tc.HasTag(tag) {
			return true
		}
	}
	return false
}
