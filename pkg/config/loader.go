package config

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Load reads a description, choosing the format by extension: .cue files
// and directories go through CUE, .yaml, .yml and .json through YAML.
func Load(path string) (*Description, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.IsDir() {
		return NewCUEParser().Parse(context.Background(), path)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		return NewCUEParser().Parse(context.Background(), path)
	case ".yaml", ".yml", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return ParseYAML(data, path)
	default:
		return nil, fmt.Errorf("unsupported description format %q", filepath.Ext(path))
	}
}

// ParseYAML decodes and validates a YAML description. Unknown fields are
// rejected.
func ParseYAML(data []byte, source string) (*Description, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var d Description
	if err := dec.Decode(&d); err != nil {
		return nil, yamlError(err, source)
	}
	d.Source = source
	d.LoadedAt = time.Now()

	if err := Validate(&d); err != nil {
		return nil, err
	}
	return &d, nil
}

func yamlError(err error, source string) error {
	var ve ValidationErrors
	if te, ok := err.(*yaml.TypeError); ok {
		for _, msg := range te.Errors {
			ve = append(ve, ValidationError{File: source, Message: msg, Severity: "error"})
		}
		return ve
	}
	return ValidationErrors{{File: source, Message: err.Error(), Severity: "error"}}
}

// MarshalYAML renders d as a YAML document.
func MarshalYAML(d *Description) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("failed to encode description: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
