package feeders

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// YamlFeeder reads a YAML file into the settings bag.
type YamlFeeder struct {
	Path string
}

// NewYamlFeeder creates a feeder reading from the specified YAML file.
func NewYamlFeeder(path string) YamlFeeder {
	return YamlFeeder{Path: path}
}

// Feed decodes the file and merges it into the bag.
func (f YamlFeeder) Feed(into map[string]any) error {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return fmt.Errorf("read YAML settings %s: %w", f.Path, err)
	}

	parsed := make(map[string]any)
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		return fmt.Errorf("parse YAML settings %s: %w", f.Path, err)
	}

	merge(into, parsed)
	return nil
}
