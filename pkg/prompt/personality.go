// Package prompt composes model-engine requests from session state, memory
// and a personality document. The composer is stateless; everything it
// needs arrives as arguments.
package prompt

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/rallyhouse/rally/pkg/config"
	"github.com/rallyhouse/rally/pkg/engine"
)

// Personality is one agent persona: voice, style constraints, background
// lore and sampling overrides.
type Personality struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	StyleRules  []string `yaml:"style_rules"`
	Lore        []string `yaml:"lore"`

	// Params overrides the default sampling parameters when set.
	Params *engine.Params `yaml:"params"`

	// CapabilityFlags forwarded to the engine verbatim.
	CapabilityFlags []string `yaml:"capability_flags"`
}

// defaultPersonality keeps the composer working with no personality file.
var defaultPersonality = Personality{
	Name:        "rally",
	Description: "An upbeat community agent for a crypto collective.",
	StyleRules: []string{
		"Keep replies short and casual.",
		"Never give financial advice.",
	},
}

// Library holds the loaded personality documents.
type Library struct {
	byName      map[string]Personality
	defaultName string
}

// LoadLibrary reads the personalities file named in config. An empty path
// yields a library holding only the built-in default.
func LoadLibrary(cfg config.PromptConfig) (*Library, error) {
	lib := &Library{
		byName:      map[string]Personality{defaultPersonality.Name: defaultPersonality},
		defaultName: defaultPersonality.Name,
	}
	if cfg.PersonalitiesFile == "" {
		if cfg.DefaultPersonality != "" {
			lib.defaultName = cfg.DefaultPersonality
		}
		return lib, nil
	}

	raw, err := os.ReadFile(cfg.PersonalitiesFile)
	if err != nil {
		return nil, fmt.Errorf("reading personalities file: %w", err)
	}
	var doc struct {
		Personalities []Personality `yaml:"personalities"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing personalities file: %w", err)
	}
	for _, p := range doc.Personalities {
		if p.Name == "" {
			return nil, fmt.Errorf("personality without a name in %s", cfg.PersonalitiesFile)
		}
		lib.byName[p.Name] = p
	}
	if cfg.DefaultPersonality != "" {
		if _, ok := lib.byName[cfg.DefaultPersonality]; !ok {
			return nil, fmt.Errorf("default personality %q not defined", cfg.DefaultPersonality)
		}
		lib.defaultName = cfg.DefaultPersonality
	}
	return lib, nil
}

// Get returns the named personality, falling back to the default for
// unknown names.
func (l *Library) Get(name string) Personality {
	if p, ok := l.byName[name]; ok {
		return p
	}
	return l.byName[l.defaultName]
}

// Default returns the default personality.
func (l *Library) Default() Personality {
	return l.byName[l.defaultName]
}
