// Package yamlutil provides strict YAML decoding helpers used by every
// configuration loader in this repository.
package yamlutil

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// UnmarshalStrict unmarshals YAML data with strict field checking enabled.
// Unknown fields in the YAML will cause an error, helping catch typos and
// configuration mistakes.
func UnmarshalStrict(data []byte, v interface{}) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // reject unknown fields

	err := decoder.Decode(v)
	if err != nil {
		// Enhance error message for unknown field errors
		errStr := err.Error()
		if strings.Contains(errStr, "field") && strings.Contains(errStr, "not found") {
			return fmt.Errorf("unknown configuration field (check for typos): %w", err)
		}
		return err
	}

	return nil
}

// LoadFile reads path and strictly unmarshals its contents into v.
func LoadFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := UnmarshalStrict(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return nil
}
