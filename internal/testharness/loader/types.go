// Package loader loads jMQTT scenario files.
package loader

import "strconv"

// TestCase is one scenario loaded from YAML.
type TestCase struct {
	// ID is the unique scenario identifier (e.g., "TC-JSON-001").
	ID string `yaml:"id"`

	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Brokers lists the brokers of the environment file the scenario uses.
	// Every configured broker is available when empty.
	Brokers []string `yaml:"brokers,omitempty"`

	// MinVersion is the lowest Jeedom core version the scenario runs on.
	MinVersion string `yaml:"min_version,omitempty"`

	// Skip disables the scenario, SkipReason says why.
	Skip       bool   `yaml:"skip,omitempty"`
	SkipReason string `yaml:"skip_reason,omitempty"`

	// Steps are the actions to execute in order.
	Steps []Step `yaml:"steps"`

	// Timeout is the maximum duration for the scenario (e.g., "2m").
	Timeout string `yaml:"timeout,omitempty"`

	Tags []string `yaml:"tags,omitempty"`
}

// HasTag reports whether the scenario carries tag.
func (tc *TestCase) HasTag(tag string) bool {
	for _, t := range tc.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Step is a single action of a scenario.
type Step struct {
	// Action names the handler (e.g., "add_equipment", "assert").
	Action string `yaml:"action"`

	Params map[string]any `yaml:"params,omitempty"`

	// Expect defines expected outcomes after the action.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Timeout overrides the scenario timeout for this step.
	Timeout string `yaml:"timeout,omitempty"`

	Description string `yaml:"description,omitempty"`
}

// TestSuite is a named collection of scenarios.
type TestSuite struct {
	Name        string      `yaml:"name"`
	Description string      `yaml:"description"`
	Cases       []*TestCase `yaml:"cases"`
}

// LoadError provides details about a scenario loading error.
type LoadError struct {
	File string

	// Line is the line number where the error occurred (0 if unknown).
	Line int

	Message string
	Cause   error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.File == "" {
		return msg
	}
	if e.Line > 0 {
		return e.File + ":" + strconv.Itoa(e.Line) + ": " + msg
	}
	return e.File + ": " + msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}
