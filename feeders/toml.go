package feeders

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// TomlFeeder reads a TOML file into the settings bag.
type TomlFeeder struct {
	Path string
}

// NewTomlFeeder creates a feeder reading from the specified TOML file.
func NewTomlFeeder(path string) TomlFeeder {
	return TomlFeeder{Path: path}
}

// Feed decodes the file and merges it into the bag.
func (f TomlFeeder) Feed(into map[string]any) error {
	parsed := make(map[string]any)
	if _, err := toml.DecodeFile(f.Path, &parsed); err != nil {
		return fmt.Errorf("parse TOML settings %s: %w", f.Path, err)
	}

	merge(into, parsed)
	return nil
}
