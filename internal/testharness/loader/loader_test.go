package loader_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/domotruc/jmqtt-test/internal/testharness/loader"
)

// TestLoaderParseBasic tests basic YAML scenario parsing.
func TestLoaderParseBasic(t *testing.T) {
	yaml := `
id: TC-EQPT-001
name: Add equipment
description: Adds an equipment on the host broker
brokers: [host]
min_version: "4.0"
tags: [eqpt, smoke]
steps:
  - action: add_equipment
    params:
      broker: host
      name: lamp
`
	tc, err := loader.ParseTestCase([]byte(yaml))
	if err != nil {
		t.Fatalf("Failed to parse test case: %v", err)
	}

	if tc.ID != "TC-EQPT-001" {
		t.Errorf("ID mismatch: expected TC-EQPT-001, got %s", tc.ID)
	}
	if tc.Name != "Add equipment" {
		t.Errorf("Name mismatch: got %s", tc.Name)
	}
	if len(tc.Brokers) != 1 || tc.Brokers[0] != "host" {
		t.Errorf("Brokers mismatch: got %v", tc.Brokers)
	}
	if tc.MinVersion != "4.0" {
		t.Errorf("MinVersion mismatch: got %s", tc.MinVersion)
	}
	if !tc.HasTag("smoke") || tc.HasTag("slow") {
		t.Errorf("Tags mismatch: got %v", tc.Tags)
	}
	if len(tc.Steps) != 1 {
		t.Fatalf("Expected 1 step, got %d", len(tc.Steps))
	}
	if tc.Steps[0].Params["name"] != "lamp" {
		t.Errorf("Step param mismatch: got %v", tc.Steps[0].Params["name"])
	}
}

// TestLoaderSteps tests step parsing with various configurations.
func TestLoaderSteps(t *testing.T) {
	yaml := `
id: TC-JSON-001
name: JSON payload
steps:
  - action: publish
    params:
      broker: host
      topic: lamp/json
      payload: '{"a": {"b": 1}}'
      qos: 1
    timeout: 5s
    description: Publish a JSON payload

  - action: assert
    params:
      channel: "{{ channel }}"
    expect:
      error: false

  - action: capture_expect
    expect:
      message_count: 2
      last_payload: online
`
	tc, err := loader.ParseTestCase([]byte(yaml))
	if err != nil {
		t.Fatalf("Failed to parse test case: %v", err)
	}

	if len(tc.Steps) != 3 {
		t.Fatalf("Expected 3 steps, got %d", len(tc.Steps))
	}
	step1 := tc.Steps[0]
	if step1.Timeout != "5s" {
		t.Errorf("Step 1 timeout mismatch: expected 5s, got %s", step1.Timeout)
	}
	if step1.Params["qos"] != 1 {
		t.Errorf("Step 1 qos param mismatch: got %v", step1.Params["qos"])
	}
	if tc.Steps[1].Params["channel"] != "{{ channel }}" {
		t.Errorf("Step 2 channel param mismatch")
	}
	if tc.Steps[1].Expect["error"] != false {
		t.Errorf("Step 2 expect mismatch")
	}
	if len(tc.Steps[2].Expect) != 2 {
		t.Errorf("Step 3 should have 2 expectations, got %d", len(tc.Steps[2].Expect))
	}
}

// TestLoaderErrors tests error handling for invalid scenarios.
func TestLoaderErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		message string
		line    int
	}{
		{
			name: "invalid yaml syntax",
			yaml: `
id: TC-ERR-001
steps: [
`,
			message: "failed to parse YAML",
		},
		{
			name:    "empty document",
			yaml:    "",
			message: "test case ID is required",
		},
		{
			name: "missing required id",
			yaml: `
name: No ID Test
steps:
  - action: wait
`,
			message: "test case ID is required",
		},
		{
			name: "empty steps",
			yaml: `
id: TC-ERR-002
steps: []
`,
			message: "test case must have at least one step",
		},
		{
			name: "step without action",
			yaml: `
id: TC-ERR-003
steps:
  - action: wait
  - params: {duration: 1s}
`,
			message: "step has no action",
			line:    5,
		},
		{
			name: "bad step timeout",
			yaml: `
id: TC-ERR-004
steps:
  - action: wait
    timeout: soon
`,
			message: "invalid step timeout",
			line:    4,
		},
		{
			name: "bad timeout",
			yaml: `
id: TC-ERR-005
timeout: 3 minutes
steps:
  - action: wait
`,
			message: "invalid timeout",
			line:    3,
		},
		{
			name: "bad min version",
			yaml: `
id: TC-ERR-006
min_version: latest
steps:
  - action: wait
`,
			message: "invalid min_version",
			line:    3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loader.ParseTestCase([]byte(tt.yaml))
			var le *loader.LoadError
			if !errors.As(err, &le) {
				t.Fatalf("Expected LoadError, got %v", err)
			}
			if le.Message != tt.message {
				t.Errorf("Message mismatch: expected %q, got %q", tt.message, le.Message)
			}
			if le.Line != tt.line {
				t.Errorf("Line mismatch: expected %d, got %d", tt.line, le.Line)
			}
		})
	}
}

func TestLoadErrorFormat(t *testing.T) {
	err := &loader.LoadError{File: "tc.yaml", Line: 12, Message: "step has no action"}
	if got := err.Error(); got != "tc.yaml:12: step has no action" {
		t.Errorf("unexpected error text %q", got)
	}

	cause := errors.New("boom")
	err = &loader.LoadError{File: "tc.yaml", Message: "failed to read file", Cause: cause}
	if got := err.Error(); got != "tc.yaml: failed to read file: boom" {
		t.Errorf("unexpected error text %q", got)
	}
	if !errors.Is(err, cause) {
		t.Error("LoadError should unwrap to its cause")
	}
}

// TestLoaderLoadFile tests loading a scenario from a file.
func TestLoaderLoadFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "test-case.yaml")

	yaml := `
id: TC-FILE-001
name: File Test
steps:
  - action: wait
`
	if err := os.WriteFile(file, []byte(yaml), 0644); err != nil {
		t.Fatalf("Failed to write test file: %v", err)
	}

	tc, err := loader.LoadTestCase(file)
	if err != nil {
		t.Fatalf("Failed to load test case: %v", err)
	}
	if tc.ID != "TC-FILE-001" {
		t.Errorf("ID mismatch: expected TC-FILE-001, got %s", tc.ID)
	}

	bad := filepath.Join(dir, "bad.yml")
	if err := os.WriteFile(bad, []byte("id: X\nsteps:\n  - params: {}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	_, err = loader.LoadTestCase(bad)
	if err == nil || !strings.HasPrefix(err.Error(), bad+":3: ") {
		t.Errorf("expected file and line in error, got %v", err)
	}

	_, err = loader.LoadTestCase(filepath.Join(dir, "missing.yaml"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
}

// TestLoaderLoadDirectory tests loading all scenarios from a directory.
func TestLoaderLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"tc-001.yaml":        "id: TC-001\nsteps:\n  - action: wait\n",
		"tc-002.yml":         "id: TC-002\nsteps:\n  - action: wait\n",
		"readme.md":          "# Not a scenario",
		"json/tc-003.yaml":   "id: TC-003\nsteps:\n  - action: wait\n",
		"daemon/tc-004.yaml": "id: TC-004\nsteps:\n  - action: wait\n",
	})

	cases, err := loader.LoadDirectory(dir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(cases) != 2 {
		t.Errorf("Expected 2 test cases, got %d", len(cases))
	}

	cases, err = loader.LoadDirectoryRecursive(dir)
	if err != nil {
		t.Fatalf("Failed to load directory: %v", err)
	}
	if len(cases) != 4 {
		t.Errorf("Expected 4 test cases, got %d", len(cases))
	}
}

func TestLoaderDuplicateID(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"a.yaml":     "id: TC-001\nsteps:\n  - action: wait\n",
		"sub/b.yaml": "id: TC-001\nsteps:\n  - action: wait\n",
	})

	_, err := loader.LoadDirectoryRecursive(dir)
	if err == nil || !strings.Contains(err.Error(), "duplicate test case ID TC-001") {
		t.Errorf("expected duplicate ID error, got %v", err)
	}
}

func TestLoadSuite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daemon.yaml")
	writeFiles(t, dir, map[string]string{"daemon.yaml": `
cases:
  - id: TC-DMN-001
    steps:
      - action: set_enabled
  - id: TC-DMN-002
    steps:
      - action: rename_broker
`})

	suite, err := loader.LoadSuite(path)
	if err != nil {
		t.Fatalf("Failed to load suite: %v", err)
	}
	if suite.Name != "daemon" {
		t.Errorf("suite name should default to the file name, got %s", suite.Name)
	}
	if len(suite.Cases) != 2 {
		t.Errorf("Expected 2 cases, got %d", len(suite.Cases))
	}
}

func TestFilterByTags(t *testing.T) {
	cases := []*loader.TestCase{
		{ID: "A", Tags: []string{"json", "smoke"}},
		{ID: "B", Tags: []string{"daemon", "slow"}},
		{ID: "C"},
	}

	ids := func(cs []*loader.TestCase) string {
		var s []string
		for _, c := range cs {
			s = append(s, c.ID)
		}
		return strings.Join(s, ",")
	}

	tests := []struct {
		include, exclude []string
		want             string
	}{
		{nil, nil, "A,B,C"},
		{[]string{"smoke"}, nil, "A"},
		{nil, []string{"slow"}, "A,C"},
		{[]string{"json", "daemon"}, []string{"slow"}, "A"},
	}
	for _, tt := range tests {
		if got := ids(loader.FilterByTags(cases, tt.include, tt.exclude)); got != tt.want {
			t.Errorf("FilterByTags(%v, %v) = %s, want %s", tt.include, tt.exclude, got, tt.want)
		}
	}

	if got := ids(loader.FilterByID(cases, []string{"A", "C*"})); got != "A,C" {
		t.Errorf("FilterByID = %s", got)
	}
	if got := ids(loader.FilterByID(cases, nil)); got != "A,B,C" {
		t.Errorf("FilterByID without patterns = %s", got)
	}
}
