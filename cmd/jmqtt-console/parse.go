package main

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/domotruc/jmqtt-test/internal/testharness/loader"
)

// splitArgs splits a console line on blanks. Single or double quotes
// group words, so payloads may hold spaces.
func splitArgs(line string) ([]string, error) {
	var (
		args  []string
		cur   strings.Builder
		quote rune
		inArg bool
	)
	for _, r := range line {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
				continue
			}
			cur.WriteRune(r)
		case r == '"' || r == '\'':
			quote = r
			inArg = true
		case r == ' ' || r == '\t':
			if inArg {
				args = append(args, cur.String())
				cur.Reset()
				inArg = false
			}
		default:
			cur.WriteRune(r)
			inArg = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unterminated %c quote", quote)
	}
	if inArg {
		args = append(args, cur.String())
	}
	return args, nil
}

// parseStep turns "action key=value ..." into a step. Values are read as
// YAML, so enabled=false is a boolean and keys=[a,b] a list, as in a
// scenario file. A key prefixed with "expect." goes to the expectations.
func parseStep(args []string) (loader.Step, error) {
	if len(args) == 0 {
		return loader.Step{}, fmt.Errorf("no action")
	}
	step := loader.Step{Action: args[0]}
	for _, arg := range args[1:] {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return loader.Step{}, fmt.Errorf("argument %q is not key=value", arg)
		}
		value, err := parseValue(raw)
		if err != nil {
			return loader.Step{}, fmt.Errorf("%s: %w", key, err)
		}
		if name, isExpect := strings.CutPrefix(key, "expect."); isExpect {
			if step.Expect == nil {
				step.Expect = make(map[string]any)
			}
			step.Expect[name] = value
			continue
		}
		if step.Params == nil {
			step.Params = make(map[string]any)
		}
		step.Params[key] = value
	}
	return step, nil
}

// parseValue decodes a YAML scalar or flow collection. Templates are kept
// as text for the engine to interpolate.
func parseValue(raw string) (any, error) {
	if raw == "" || strings.Contains(raw, "{{") {
		return raw, nil
	}
	var v any
	if err := yaml.Unmarshal([]byte(raw), &v); err != nil {
		return nil, err
	}
	if v == nil {
		return raw, nil
	}
	return v, nil
}
