package ledger

import (
	"bytes"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ErrEmptyEdits is returned when an edit document holds no records.
var ErrEmptyEdits = errors.New("edit document has no records")

// ParseEdits reads an edited ledger. It accepts JSON or YAML, either as a bare
// list of records or as a document with a "records" key (the export layout).
func ParseEdits(data []byte) ([]Edit, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyEdits
	}
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse edits: %w", err)
	}
	node := &root
	if node.Kind == yaml.DocumentNode && len(node.Content) == 1 {
		node = node.Content[0]
	}

	var edits []Edit
	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&edits); err != nil {
			return nil, fmt.Errorf("parse edits: %w", err)
		}
	case yaml.MappingNode:
		var doc struct {
			Records []Edit `yaml:"records"`
		}
		if err := node.Decode(&doc); err != nil {
			return nil, fmt.Errorf("parse edits: %w", err)
		}
		edits = doc.Records
	default:
		return nil, fmt.Errorf("parse edits: expected a list or a records document")
	}
	if len(edits) == 0 {
		return nil, ErrEmptyEdits
	}
	return edits, nil
}

// MarshalEditsYAML renders edits in the layout ParseEdits reads back.
func MarshalEditsYAML(edits []Edit) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(struct {
		Records []Edit `yaml:"records"`
	}{Records: edits}); err != nil {
		return nil, fmt.Errorf("encode edits: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode edits: %w", err)
	}
	return buf.Bytes(), nil
}
