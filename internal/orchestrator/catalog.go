package orchestrator

import (
	"fmt"
	"maps"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog maps quick-action names to the phrase sent to the coach.
type Catalog map[string]string

// DefaultCatalog returns the built-in quick actions.
func DefaultCatalog() Catalog {
	return Catalog{
		"overwhelmed":     "I'm feeling overwhelmed and need help organizing my thoughts",
		"startTask":       "I need help starting a task that feels overwhelming",
		"procrastinating": "I'm procrastinating and can't seem to get started",
		"breakDown":       "I have a big to-do list that needs to be broken down into manageable pieces",
	}
}

// Phrase returns the phrase for action. Unknown actions are used verbatim.
func (c Catalog) Phrase(action string) string {
	if phrase, ok := c[action]; ok {
		return phrase
	}
	return action
}

type catalogFile struct {
	QuickActions map[string]string `yaml:"quick_actions"`
}

// LoadCatalog reads quick actions from a YAML file and merges them over the
// defaults. An empty path returns the defaults.
//
//	quick_actions:
//	  overwhelmed: "I'm feeling overwhelmed"
//	  focus: "Help me focus for 20 minutes"
func LoadCatalog(path string) (Catalog, error) {
	catalog := DefaultCatalog()
	if path == "" {
		return catalog, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read quick actions: %w", err)
	}

	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse quick actions %s: %w", path, err)
	}
	for name, phrase := range file.QuickActions {
		if strings.TrimSpace(phrase) == "" {
			return nil, fmt.Errorf("quick action %q has an empty phrase", name)
		}
	}
	maps.Copy(catalog, file.QuickActions)
	return catalog, nil
}
