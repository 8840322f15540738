package benchmark

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

// DefaultProfiles returns the built-in named configurations
func DefaultProfiles() map[string]Config {
	return map[string]Config{
		"quick": {
			Name:             "quick",
			Description:      "Smoke run for local iteration",
			Iterations:       100,
			Concurrency:      1,
			WarmupIterations: 10,
		},
		"standard": {
			Name:             "standard",
			Description:      "Default regression baseline",
			Iterations:       1000,
			Concurrency:      5,
			WarmupIterations: 100,
			Scenarios:        []string{ScenarioList, ScenarioGet, ScenarioCreate, ScenarioUpdate},
		},
		"stress": {
			Name:             "stress",
			Description:      "High concurrency across every scenario",
			Iterations:       5000,
			Concurrency:      20,
			WarmupIterations: 250,
			Scenarios:        []string{ScenarioList, ScenarioGet, ScenarioCreate, ScenarioUpdate, ScenarioDelete},
		},
		"endurance": {
			Name:             "endurance",
			Description:      "Long run to surface memory growth",
			Iterations:       10000,
			Concurrency:      10,
			WarmupIterations: 500,
			MaxDuration:      30 * time.Minute,
		},
	}
}

// profileSchema constrains the shape of a profiles file before it is decoded
// into Config values. Semantic checks stay in Config.Validate.
const profileSchema = `{
  "type": "object",
  "properties": {
    "profiles": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": false,
        "properties": {
          "description": {"type": "string"},
          "iterations": {"type": "integer", "minimum": 0},
          "concurrency": {"type": "integer", "minimum": 0},
          "warmup_iterations": {"type": "integer", "minimum": 0},
          "max_duration": {"type": "string"},
          "target_entities": {"type": "array", "items": {"type": "string"}},
          "scenarios": {
            "type": "array",
            "items": {"enum": ["list", "get", "create", "update", "delete"]}
          }
        }
      }
    }
  }
}`

type profileFile struct {
	Profiles map[string]profileEntry `yaml:"profiles"`
}

// profileEntry mirrors Config with max_duration as a duration string
type profileEntry struct {
	Description      string   `yaml:"description"`
	Iterations       int      `yaml:"iterations"`
	Concurrency      int      `yaml:"concurrency"`
	WarmupIterations int      `yaml:"warmup_iterations"`
	MaxDuration      string   `yaml:"max_duration"`
	TargetEntities   []string `yaml:"target_entities"`
	Scenarios        []string `yaml:"scenarios"`
}

// LoadProfiles reads profiles from a YAML file of the form
//
//	profiles:
//	  nightly:
//	    iterations: 2000
//	    concurrency: 8
//	    max_duration: 10m
func LoadProfiles(path string) (map[string]Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles: %w", err)
	}
	return ParseProfiles(data)
}

// ParseProfiles decodes profile YAML. Every profile is validated after
// defaults are applied.
func ParseProfiles(data []byte) (map[string]Config, error) {
	if err := validateProfileDocument(data); err != nil {
		return nil, err
	}

	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse profiles: %w", err)
	}

	out := make(map[string]Config, len(file.Profiles))
	for name, p := range file.Profiles {
		cfg := Config{
			Name:             name,
			Description:      p.Description,
			Iterations:       p.Iterations,
			Concurrency:      p.Concurrency,
			WarmupIterations: p.WarmupIterations,
			TargetEntities:   p.TargetEntities,
			Scenarios:        p.Scenarios,
		}
		if p.MaxDuration != "" {
			d, err := time.ParseDuration(p.MaxDuration)
			if err != nil {
				return nil, fmt.Errorf("profile %s: max_duration: %w", name, err)
			}
			cfg.MaxDuration = d
		}
		cfg.ApplyDefaults()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("profile %s: %w", name, err)
		}
		out[name] = cfg
	}
	return out, nil
}

func validateProfileDocument(data []byte) error {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("parse profiles: %w", err)
	}
	if doc == nil {
		return nil
	}

	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(profileSchema), gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("%w: profiles: %s", ErrInvalidConfig, strings.Join(msgs, "; "))
	}
	return nil
}

func profileNames(profiles map[string]Config) []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
