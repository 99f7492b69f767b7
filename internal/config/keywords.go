package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// keywordsFile accepts either a bare YAML list or a mapping with a keywords
// key, optionally next to city and category defaults.
type keywordsFile struct {
	City     string   `yaml:"city"`
	Category string   `yaml:"category"`
	Keywords []string `yaml:"keywords"`
}

// KeywordPreset is the content of a keywords file.
type KeywordPreset struct {
	City     string
	Category string
	Keywords []string
}

// LoadKeywordsFile reads a keyword preset. Blank entries are dropped and
// order is kept.
func LoadKeywordsFile(path string) (*KeywordPreset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "config: read keywords file %s", path)
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, eris.Wrapf(err, "config: parse keywords file %s", path)
	}
	if len(node.Content) == 0 {
		return nil, eris.Errorf("config: keywords file %s is empty", path)
	}

	var kf keywordsFile
	root := node.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		if err := root.Decode(&kf.Keywords); err != nil {
			return nil, eris.Wrapf(err, "config: decode keywords list %s", path)
		}
	case yaml.MappingNode:
		if err := root.Decode(&kf); err != nil {
			return nil, eris.Wrapf(err, "config: decode keywords file %s", path)
		}
	default:
		return nil, eris.Errorf("config: keywords file %s must be a list or a mapping", path)
	}

	preset := &KeywordPreset{City: kf.City, Category: kf.Category}
	for _, k := range kf.Keywords {
		if k = strings.TrimSpace(k); k != "" {
			preset.Keywords = append(preset.Keywords, k)
		}
	}
	if len(preset.Keywords) == 0 {
		return nil, eris.Errorf("config: keywords file %s has no keywords", path)
	}
	return preset, nil
}

// SplitKeywords parses a comma-separated flag value.
func SplitKeywords(s string) []string {
	var out []string
	for _, k := range strings.Split(s, ",") {
		if k = strings.TrimSpace(k); k != "" {
			out = append(out, k)
		}
	}
	return out
}
