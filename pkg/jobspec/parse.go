package jobspec

import (
	"encoding/json"
	"fmt"
	"os"
)

// Parse decodes and validates a job document
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse job document: %w", err)
	}

	if doc.Output.Mode == "" {
		doc.Output.Mode = OutputRaw
	}

	if err := Validate(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// ParseFile parses a job document from disk
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job document: %w", err)
	}
	return Parse(data)
}

// ToJSON encodes the document
func (d *Document) ToJSON() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}
