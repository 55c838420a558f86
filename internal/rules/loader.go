package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a YAML rule seed.
func LoadFile(path string) (Tables, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Tables{}, fmt.Errorf("read rules file: %w", err)
	}
	return Decode(raw)
}

// Decode parses a YAML rule seed. Unknown keys are rejected so that a typo
// in a column name does not silently drop a match field.
func Decode(raw []byte) (Tables, error) {
	var t Tables
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&t); err != nil && !errors.Is(err, io.EOF) {
		return Tables{}, fmt.Errorf("parse rules: %w", err)
	}
	return t, nil
}
