package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a Schema from a YAML file on disk. Knowledge base schemas
// are typically authored by hand and checked into a repository alongside
// connector configuration, so this accepts YAML rather than requiring a
// hand-built JSON payload for register_schema.
func LoadFile(path string) (Schema, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("schema: read %s: %w", path, err)
	}
	var s Schema
	if err := yaml.Unmarshal(raw, &s); err != nil {
		return Schema{}, fmt.Errorf("schema: parse %s: %w", path, err)
	}
	return s, nil
}

// LoadDir reads every *.yaml/*.yml file directly under dir and registers
// each one against r. It returns the kb_ids registered, in the order their
// files were read, or the first error encountered (file read, YAML parse,
// or schema validation), identified by path.
func LoadDir(r *Registry, dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("schema: read dir %s: %w", dir, err)
	}
	var kbIDs []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		s, err := LoadFile(path)
		if err != nil {
			return kbIDs, err
		}
		kbID, _, err := r.Register(s)
		if err != nil {
			return kbIDs, fmt.Errorf("schema: register %s: %w", path, err)
		}
		kbIDs = append(kbIDs, kbID)
	}
	return kbIDs, nil
}
