package catalog

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/concord/internal/model"
)

// seedConcept is the YAML shape of one catalog entry.
type seedConcept struct {
	Name     string `yaml:"name"`
	Role     string `yaml:"role,omitempty"`
	Triggers []struct {
		Text     string `yaml:"text"`
		Language string `yaml:"language,omitempty"`
	} `yaml:"triggers,omitempty"`
}

type seedFile struct {
	Concepts []seedConcept `yaml:"concepts"`
}

// LoadFile seeds the catalog from a YAML file. Entries whose names share a
// normalization key land on the same concept (triggers unioned), so a seed
// file with case-differing duplicates cannot create duplicate concepts.
func LoadFile(path string, cat *Catalog) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read catalog file: %w", err)
	}

	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return 0, fmt.Errorf("parse catalog file: %w", err)
	}

	loaded := 0
	for _, sc := range seed.Concepts {
		if sc.Name == "" {
			continue
		}
		role := model.RoleTag(sc.Role)
		if role == "" {
			role = model.RoleEntity
		}
		concept, err := cat.GetOrCreate(sc.Name, role)
		if err != nil {
			return loaded, fmt.Errorf("seed concept %q: %w", sc.Name, err)
		}
		for _, t := range sc.Triggers {
			cat.AddTriggers(concept.ID, model.Trigger{Text: t.Text, Language: t.Language})
		}
		loaded++
	}
	return loaded, nil
}
