package selector

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnmarshalYAML decodes a spec while preserving declaration order.
//
// Accepted forms:
//
//	fields: {wow: true, very: true}   # whitelist
//	fields: {awesome: false}          # blacklist
//	fields: [wow, very]               # whitelist shorthand
//	fields: {}                        # select nothing
//
// A null node leaves the pointer nil (select everything).
func (s *Spec) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.MappingNode:
		entries := make([]Entry, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			keyNode, valNode := node.Content[i], node.Content[i+1]
			if keyNode.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: field name must be a scalar", keyNode.Line)
			}
			entries = append(entries, Entry{Field: keyNode.Value, Keep: truthy(valNode)})
		}
		*s = *FromEntries(entries...)
		return nil

	case yaml.SequenceNode:
		fields := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: field name must be a scalar", item.Line)
			}
			fields = append(fields, item.Value)
		}
		*s = *Whitelist(fields...)
		return nil

	default:
		return fmt.Errorf("line %d: field selection must be a mapping or a sequence", node.Line)
	}
}

// String renders the spec in flow style, e.g. {wow: true, very: true}.
func (s *Spec) String() string {
	if s == nil {
		return "*"
	}
	parts := make([]string, len(s.entries))
	for i, e := range s.entries {
		parts[i] = fmt.Sprintf("%s: %t", e.Field, e.Keep)
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// Parse decodes a spec from YAML or JSON text. JSON objects are parsed as
// YAML so that key order survives. Empty input and "null" yield nil.
func Parse(text string) (*Spec, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || trimmed == "null" || trimmed == "~" {
		return nil, nil
	}

	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(trimmed), &doc); err != nil {
		return nil, fmt.Errorf("parse field selection: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, nil
	}

	spec := &Spec{}
	if err := spec.UnmarshalYAML(doc.Content[0]); err != nil {
		return nil, fmt.Errorf("parse field selection: %w", err)
	}
	return spec, nil
}

// truthy mirrors loose truthiness for scalar YAML values: false, 0, "" and
// null are falsy; everything else is truthy.
func truthy(node *yaml.Node) bool {
	if node.Kind != yaml.ScalarNode {
		return true
	}
	switch node.ShortTag() {
	case "!!null":
		return false
	case "!!bool":
		var b bool
		if err := node.Decode(&b); err == nil {
			return b
		}
		return false
	case "!!int":
		n, err := strconv.ParseInt(node.Value, 0, 64)
		return err != nil || n != 0
	case "!!str":
		return node.Value != ""
	}
	return node.Value != ""
}
