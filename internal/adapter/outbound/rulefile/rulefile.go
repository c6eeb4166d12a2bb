// Package rulefile reads automation rule definitions from YAML files.
//
// A file holds a top-level "rules" list:
//
//	rules:
//	  - id: escalate-critical-incidents
//	    tenant_id: acme
//	    rule_name: Escalate critical incidents
//	    trigger_event_types: [incident_reported]
//	    conditions:
//	      logic: AND
//	      rules:
//	        - {field: severity, operator: eq, value: critical}
//	    actions:
//	      - action_type: send_notification
//	        config: {title: "Incident {{title}}"}
//
// is_enabled defaults to true when omitted.
package rulefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/complyflow/complyflow/internal/domain/automation"
)

type document struct {
	Rules []yaml.Node `yaml:"rules"`
}

// Load reads and parses the rule file at path.
func Load(path string) ([]automation.Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule file: %w", err)
	}
	rules, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rules, nil
}

// Parse decodes a rules document. It does not validate the rules.
func Parse(data []byte) ([]automation.Rule, error) {
	var doc document
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	rules := make([]automation.Rule, 0, len(doc.Rules))
	for i := range doc.Rules {
		r := automation.Rule{Enabled: true}
		if err := doc.Rules[i].Decode(&r); err != nil {
			return nil, fmt.Errorf("rule %d (line %d): %w", i, doc.Rules[i].Line, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Marshal encodes rules as a rules document.
func Marshal(rules []automation.Rule) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]any{"rules": rules}); err != nil {
		return nil, fmt.Errorf("encode rules: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode rules: %w", err)
	}
	return buf.Bytes(), nil
}
