// Package reporter writes scenario results as text, JSON or JUnit XML.
package reporter

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/domotruc/jmqtt-test/internal/testharness/engine"
	"github.com/domotruc/jmqtt-test/pkg/reconcile"
)

// Reporter formats and outputs scenario results.
type Reporter interface {
	ReportSuite(result *engine.SuiteResult)
	ReportTest(result *engine.TestResult)
}

func status(result *engine.TestResult) string {
	switch {
	case result.Skipped:
		return "skipped"
	case result.Passed:
		return "passed"
	default:
		return "failed"
	}
}

func passRate(result *engine.SuiteResult) float64 {
	total := result.PassCount + result.FailCount
	if total == 0 {
		return 0
	}
	return float64(result.PassCount) / float64(total) * 100
}

// mismatchOf returns the reconciliation mismatch that failed a step, if
// any.
func mismatchOf(err error) *reconcile.MismatchError {
	var m *reconcile.MismatchError
	if errors.As(err, &m) {
		return m
	}
	return nil
}

// TextReporter outputs human-readable reports.
type TextReporter struct {
	writer  io.Writer
	verbose bool
}

// NewTextReporter creates a text reporter. Verbose adds every step and
// expectation.
func NewTextReporter(w io.Writer, verbose bool) *TextReporter {
	return &TextReporter{writer: w, verbose: verbose}
}

// ReportSuite reports suite results in text format.
func (r *TextReporter) ReportSuite(result *engine.SuiteResult) {
	fmt.Fprintf(r.writer, "\n=== %s ===\n", result.SuiteName)
	fmt.Fprintf(r.writer, "Duration: %s\n\n", result.Duration.Round(time.Millisecond))

	for _, tr := range result.Results {
		r.ReportTest(tr)
	}

	fmt.Fprintf(r.writer, "\n--- Summary ---\n")
	fmt.Fprintf(r.writer, "Scenarios: %d\n", len(result.Results))
	fmt.Fprintf(r.writer, "Passed:    %d\n", result.PassCount)
	fmt.Fprintf(r.writer, "Failed:    %d\n", result.FailCount)
	fmt.Fprintf(r.writer, "Skipped:   %d\n", result.SkipCount)
	if result.PassCount+result.FailCount > 0 {
		fmt.Fprintf(r.writer, "Pass rate: %.1f%%\n", passRate(result))
	}
}

// ReportTest reports a single scenario in text format. The diff of a
// failed reconciliation is printed indented under the failing step.
func (r *TextReporter) ReportTest(result *engine.TestResult) {
	tc := result.TestCase
	fmt.Fprintf(r.writer, "[%s] %s - %s (%s)\n",
		strings.ToUpper(status(result)[:4]), tc.ID, tc.Name, result.Duration.Round(time.Millisecond))

	if result.Skipped && result.SkipReason != "" {
		fmt.Fprintf(r.writer, "       Skip reason: %s\n", result.SkipReason)
	}

	if !result.Passed && !result.Skipped {
		for _, sr := range result.StepResults {
			if sr.Passed {
				continue
			}
			fmt.Fprintf(r.writer, "       Step %d (%s) failed", sr.StepIndex+1, sr.Step.Action)
			if sr.Step.Description != "" {
				fmt.Fprintf(r.writer, ": %s", sr.Step.Description)
			}
			fmt.Fprintln(r.writer)
			if m := mismatchOf(sr.Error); m != nil {
				fmt.Fprintf(r.writer, "       %s %s: %s\n", m.Channel, m.Entity, m.Reason)
				writeIndented(r.writer, m.Diff, "         ")
			} else if sr.Error != nil {
				fmt.Fprintf(r.writer, "       Error: %v\n", sr.Error)
			}
		}
		if result.Error != nil && len(result.StepResults) == 0 {
			fmt.Fprintf(r.writer, "       Error: %v\n", result.Error)
		}
	}

	if !r.verbose {
		return
	}
	for _, sr := range result.StepResults {
		stepStatus := "PASS"
		if !sr.Passed {
			stepStatus = "FAIL"
		}
		fmt.Fprintf(r.writer, "    [%s] Step %d: %s (%s)\n",
			stepStatus, sr.StepIndex+1, sr.Step.Action, sr.Duration.Round(time.Millisecond))
		for key, er := range sr.ExpectResults {
			expStatus := "OK"
			if !er.Passed {
				expStatus = "FAILED"
			}
			fmt.Fprintf(r.writer, "           [%s] %s: %s\n", expStatus, key, er.Message)
		}
	}
}

func writeIndented(w io.Writer, s, indent string) {
	for _, line := range strings.Split(strings.TrimRight(s, "\n"), "\n") {
		if line != "" {
			fmt.Fprintf(w, "%s%s\n", indent, line)
		}
	}
}

// JSONReporter outputs JSON reports.
type JSONReporter struct {
	writer io.Writer
	pretty bool
}

// NewJSONReporter creates a JSON reporter.
func NewJSONReporter(w io.Writer, pretty bool) *JSONReporter {
	return &JSONReporter{writer: w, pretty: pretty}
}

// JSONSuiteResult is the JSON representation of suite results.
type JSONSuiteResult struct {
	SuiteName string           `json:"suite_name"`
	Duration  string           `json:"duration"`
	Total     int              `json:"total"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Skipped   int              `json:"skipped"`
	PassRate  float64          `json:"pass_rate"`
	Tests     []JSONTestResult `json:"tests"`
}

// JSONTestResult is the JSON representation of a scenario result.
type JSONTestResult struct {
	ID         string           `json:"id"`
	Name       string           `json:"name"`
	Status     string           `json:"status"`
	Duration   string           `json:"duration"`
	Brokers    []string         `json:"brokers,omitempty"`
	Tags       []string         `json:"tags,omitempty"`
	Error      string           `json:"error,omitempty"`
	SkipReason string           `json:"skip_reason,omitempty"`
	Steps      []JSONStepResult `json:"steps,omitempty"`
}

// JSONStepResult is the JSON representation of a step result.
type JSONStepResult struct {
	Index    int                   `json:"index"`
	Action   string                `json:"action"`
	Status   string                `json:"status"`
	Duration string                `json:"duration"`
	Error    string                `json:"error,omitempty"`
	Mismatch *JSONMismatch         `json:"mismatch,omitempty"`
	Expects  map[string]JSONExpect `json:"expects,omitempty"`
	Outputs  map[string]any        `json:"outputs,omitempty"`
}

// JSONMismatch details a failed reconciliation.
type JSONMismatch struct {
	Channel string `json:"channel"`
	Broker  string `json:"broker,omitempty"`
	Entity  string `json:"entity"`
	Reason  string `json:"reason"`
	Diff    string `json:"diff,omitempty"`
}

// JSONExpect is the JSON representation of an expectation result.
type JSONExpect struct {
	Passed   bool   `json:"passed"`
	Expected any    `json:"expected"`
	Actual   any    `json:"actual"`
	Message  string `json:"message"`
}

// ReportSuite reports suite results in JSON format.
func (r *JSONReporter) ReportSuite(result *engine.SuiteResult) {
	jr := JSONSuiteResult{
		SuiteName: result.SuiteName,
		Duration:  result.Duration.Round(time.Millisecond).String(),
		Total:     len(result.Results),
		Passed:    result.PassCount,
		Failed:    result.FailCount,
		Skipped:   result.SkipCount,
		PassRate:  passRate(result),
		Tests:     make([]JSONTestResult, 0, len(result.Results)),
	}
	for _, tr := range result.Results {
		jr.Tests = append(jr.Tests, testToJSON(tr))
	}
	r.writeJSON(jr)
}

// ReportTest reports a single scenario in JSON format.
func (r *JSONReporter) ReportTest(result *engine.TestResult) {
	r.writeJSON(testToJSON(result))
}

func testToJSON(result *engine.TestResult) JSONTestResult {
	tc := result.TestCase
	jr := JSONTestResult{
		ID:         tc.ID,
		Name:       tc.Name,
		Status:     status(result),
		Duration:   result.Duration.Round(time.Millisecond).String(),
		Brokers:    tc.Brokers,
		Tags:       tc.Tags,
		SkipReason: result.SkipReason,
	}
	if result.Error != nil {
		jr.Error = result.Error.Error()
	}

	for _, sr := range result.StepResults {
		jsr := JSONStepResult{
			Index:    sr.StepIndex,
			Action:   sr.Step.Action,
			Status:   "passed",
			Duration: sr.Duration.Round(time.Millisecond).String(),
			Outputs:  sr.Output,
		}
		if !sr.Passed {
			jsr.Status = "failed"
		}
		if sr.Error != nil {
			jsr.Error = sr.Error.Error()
		}
		if m := mismatchOf(sr.Error); m != nil {
			jsr.Mismatch = &JSONMismatch{
				Channel: string(m.Channel),
				Broker:  m.Broker,
				Entity:  m.Entity,
				Reason:  m.Reason,
				Diff:    m.Diff,
			}
		}
		if len(sr.ExpectResults) > 0 {
			jsr.Expects = make(map[string]JSONExpect, len(sr.ExpectResults))
			for key, er := range sr.ExpectResults {
				jsr.Expects[key] = JSONExpect{
					Passed:   er.Passed,
					Expected: er.Expected,
					Actual:   er.Actual,
					Message:  er.Message,
				}
			}
		}
		jr.Steps = append(jr.Steps, jsr)
	}
	return jr
}

func (r *JSONReporter) writeJSON(v any) {
	var data []byte
	var err error
	if r.pretty {
		data, err = json.MarshalIndent(v, "", "  ")
	} else {
		data, err = json.Marshal(v)
	}
	if err != nil {
		fmt.Fprintf(r.writer, `{"error": "failed to marshal: %s"}`, err)
		return
	}
	fmt.Fprintln(r.writer, string(data))
}

// JUnitReporter outputs JUnit XML for CI.
type JUnitReporter struct {
	writer io.Writer
}

// NewJUnitReporter creates a JUnit reporter.
func NewJUnitReporter(w io.Writer) *JUnitReporter {
	return &JUnitReporter{writer: w}
}

// ReportSuite reports suite results in JUnit XML format. Scenario tags
// become the classname so CI groups them.
func (r *JUnitReporter) ReportSuite(result *engine.SuiteResult) {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString("\n")
	fmt.Fprintf(&b, `<testsuite name="%s" tests="%d" failures="%d" skipped="%d" time="%.3f">`,
		escapeXML(result.SuiteName),
		len(result.Results),
		result.FailCount,
		result.SkipCount,
		result.Duration.Seconds())
	b.WriteString("\n")

	for _, tr := range result.Results {
		tc := tr.TestCase
		class := result.SuiteName
		if len(tc.Tags) > 0 {
			class += "." + strings.Join(tc.Tags, ".")
		}
		fmt.Fprintf(&b, `  <testcase name="%s" classname="%s" time="%.3f">`,
			escapeXML(tc.ID+" "+tc.Name),
			escapeXML(class),
			tr.Duration.Seconds())
		b.WriteString("\n")

		switch {
		case tr.Skipped:
			fmt.Fprintf(&b, `    <skipped message="%s"/>`, escapeXML(tr.SkipReason))
			b.WriteString("\n")
		case !tr.Passed:
			msg := "failed"
			if tr.Error != nil {
				msg = tr.Error.Error()
			}
			fmt.Fprintf(&b, `    <failure message="%s">`, escapeXML(firstLine(msg)))
			b.WriteString("<![CDATA[")
			for _, sr := range tr.StepResults {
				if !sr.Passed {
					fmt.Fprintf(&b, "Step %d (%s): %v\n", sr.StepIndex+1, sr.Step.Action, sr.Error)
				}
			}
			b.WriteString("]]></failure>\n")
		}
		b.WriteString("  </testcase>\n")
	}
	b.WriteString("</testsuite>\n")
	fmt.Fprint(r.writer, b.String())
}

// ReportTest reports a single scenario wrapped in a one-case suite.
func (r *JUnitReporter) ReportTest(result *engine.TestResult) {
	suite := &engine.SuiteResult{
		SuiteName: result.TestCase.ID,
		Results:   []*engine.TestResult{result},
		Duration:  result.Duration,
	}
	switch {
	case result.Skipped:
		suite.SkipCount = 1
	case result.Passed:
		suite.PassCount = 1
	default:
		suite.FailCount = 1
	}
	r.ReportSuite(suite)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func escapeXML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	s = strings.ReplaceAll(s, "\"", "&quot;")
	s = strings.ReplaceAll(s, "'", "&apos;")
	return s
}
