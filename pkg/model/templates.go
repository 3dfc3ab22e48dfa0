package model

import (
	"embed"
	"encoding/json"
	"fmt"
)

//go:embed templates/*.json
var templateFS embed.FS

const (
	cmdTemplate    = "cmd.json"
	eqptTemplate   = "eqpt.json"
	brokerTemplate = "broker.json"
)

// Template returns the raw JSON skeleton of the named template
// ("cmd.json", "eqpt.json" or "broker.json").
func Template(name string) ([]byte, error) {
	data, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		return nil, fmt.Errorf("template %q not found: %w", name, err)
	}
	return data, nil
}

// mustLoadTemplate decodes an embedded template into v. The templates are
// compiled into the binary, so a failure here is a build defect.
func mustLoadTemplate(name string, v any) {
	data, err := Template(name)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		panic(fmt.Sprintf("model: invalid template %s: %v", name, err))
	}
}
