// Package npc provides NPC template definitions and live instance management.
package npc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Behavior names an NPC's combat disposition.
type Behavior string

const (
	// BehaviorAggressive NPCs fight back and pick targets on their own.
	BehaviorAggressive Behavior = "aggressive"
	// BehaviorPassive NPCs try to flee as soon as they are attacked.
	BehaviorPassive Behavior = "passive"
	// BehaviorTrainingDummy NPCs stand there and take it.
	BehaviorTrainingDummy Behavior = "training_dummy"
)

// Abilities holds the six core ability scores for an NPC template.
type Abilities struct {
	Strength     int `yaml:"strength"`
	Dexterity    int `yaml:"dexterity"`
	Constitution int `yaml:"constitution"`
	Intelligence int `yaml:"intelligence"`
	Wisdom       int `yaml:"wisdom"`
	Charisma     int `yaml:"charisma"`
}

// Template defines a reusable NPC archetype loaded from YAML.
type Template struct {
	ID          string    `yaml:"id"`
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Level       int       `yaml:"level"`
	MaxHP       int       `yaml:"max_hp"`
	Abilities   Abilities `yaml:"abilities"`
	// Behavior selects the combat disposition; empty means aggressive.
	Behavior Behavior `yaml:"behavior"`
	// WimpyThreshold is the HP fraction below which an aggressive NPC
	// tries to flee. Zero disables it.
	WimpyThreshold float64 `yaml:"wimpy_threshold"`
	// XPValue is the experience awarded for killing this NPC. Zero means
	// the standard award of 10 per level.
	XPValue int `yaml:"xp_value"`
	// Keywords are extra words players can target this NPC with, in
	// addition to its name.
	Keywords []string `yaml:"keywords"`
	// RespawnDelay is the duration string (e.g. "5m", "30s") before a dead
	// NPC of this template respawns. Empty means the NPC does not respawn.
	RespawnDelay string `yaml:"respawn_delay"`
}

// Validate checks that the template satisfies basic invariants.
//
// Precondition: t must not be nil.
// Postcondition: Returns nil iff ID and Name are non-empty, Level >= 1,
// MaxHP >= 1, the behavior is recognized, and WimpyThreshold is within
// [0, 1); returns an error on the first violation otherwise.
func (t *Template) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("npc template: id must not be empty")
	}
	if t.Name == "" {
		return fmt.Errorf("npc template %q: name must not be empty", t.ID)
	}
	if t.Level < 1 {
		return fmt.Errorf("npc template %q: level must be >= 1", t.ID)
	}
	if t.MaxHP < 1 {
		return fmt.Errorf("npc template %q: max_hp must be >= 1", t.ID)
	}
	switch t.Behavior {
	case "", BehaviorAggressive, BehaviorPassive, BehaviorTrainingDummy:
	default:
		return fmt.Errorf("npc template %q: unknown behavior %q", t.ID, t.Behavior)
	}
	if t.WimpyThreshold < 0 || t.WimpyThreshold >= 1 {
		return fmt.Errorf("npc template %q: wimpy_threshold %v must be in [0, 1)", t.ID, t.WimpyThreshold)
	}
	if t.RespawnDelay != "" {
		if _, err := time.ParseDuration(t.RespawnDelay); err != nil {
			return fmt.Errorf("npc template %q: respawn_delay %q is not a valid duration: %w", t.ID, t.RespawnDelay, err)
		}
	}
	return nil
}

// ExperienceValue returns the XP award for killing an NPC of this template.
func (t *Template) ExperienceValue() int {
	if t.XPValue > 0 {
		return t.XPValue
	}
	return 10 * t.Level
}

// LoadTemplateFromBytes parses a single NPC template from raw YAML bytes.
//
// Precondition: data must be valid YAML for a single Template.
// Postcondition: Returns a validated *Template, or an error.
func LoadTemplateFromBytes(data []byte) (*Template, error) {
	var tmpl Template
	if err := yaml.Unmarshal(data, &tmpl); err != nil {
		return nil, fmt.Errorf("parsing template YAML: %w", err)
	}
	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// LoadTemplates reads all *.yaml files in dir and returns the parsed
// templates.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns all templates or an error on the first parse or
// validate failure; on error, the partial result is discarded.
func LoadTemplates(dir string) ([]*Template, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading npc dir %q: %w", dir, err)
	}

	var templates []*Template
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading %q: %w", path, err)
		}
		tmpl, err := LoadTemplateFromBytes(data)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", path, err)
		}
		templates = append(templates, tmpl)
	}
	return templates, nil
}
