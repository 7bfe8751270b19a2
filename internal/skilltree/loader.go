package skilltree

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"progression-pipeline/internal/models"

	"gopkg.in/yaml.v3"
)

// treeFile is the on-disk layout of a skill tree definition
type treeFile struct {
	Version string                 `yaml:"version"`
	Nodes   []models.SkillTreeNode `yaml:"nodes"`
}

// ParseTreeYAML decodes and validates a skill tree definition
func ParseTreeYAML(data []byte) (*Tree, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("skilltree: definition payload is empty")
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file treeFile
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("skilltree: decode definition: %w", err)
	}
	if len(file.Nodes) == 0 {
		return nil, fmt.Errorf("skilltree: definition has no nodes")
	}
	return NewTree(file.Nodes)
}

// LoadTreeFile reads a YAML skill tree from disk
func LoadTreeFile(path string) (*Tree, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("skilltree: read %s: %w", path, err)
	}
	tree, err := ParseTreeYAML(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Clean(path), err)
	}
	return tree, nil
}
