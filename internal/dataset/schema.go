package dataset

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rfi_schema.yaml
var defaultSchemaYAML []byte

// Field describes one column for prompts and coercion.
type Field struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Type        string `yaml:"type"`
	SampleValue any    `yaml:"sample_value,omitempty"`
}

// Kind derives the coercion target from the free-text type.
func (f Field) Kind() ValueKind {
	t := strings.ToLower(f.Type)
	switch {
	case strings.HasPrefix(t, "datetime"), strings.HasPrefix(t, "date"):
		return KindDate
	case strings.HasPrefix(t, "integer"):
		return KindInt
	case strings.HasPrefix(t, "number"), strings.HasPrefix(t, "float"):
		return KindFloat
	default:
		return KindString
	}
}

// Schema is the ordered field-level description of the dataset.
type Schema struct {
	Fields []Field `yaml:"fields"`
}

// DefaultSchema returns the embedded description of the request log.
func DefaultSchema() (*Schema, error) {
	return ParseSchema(defaultSchemaYAML)
}

// LoadSchema reads a YAML schema file.
func LoadSchema(path string) (*Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	return ParseSchema(raw)
}

func ParseSchema(raw []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	if len(s.Fields) == 0 {
		return nil, fmt.Errorf("parse schema: no fields")
	}
	for i, f := range s.Fields {
		if strings.TrimSpace(f.Name) == "" {
			return nil, fmt.Errorf("parse schema: field %d has no name", i)
		}
	}
	return &s, nil
}

// Field returns the description for a column.
func (s *Schema) Field(name string) (Field, bool) {
	if s == nil {
		return Field{}, false
	}
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Describe renders the schema as YAML for inclusion in prompts.
func (s *Schema) Describe() string {
	if s == nil {
		return ""
	}
	out, err := yaml.Marshal(s)
	if err != nil {
		return ""
	}
	return string(out)
}
