// Package effect defines the transient combat status effects a participant
// can carry (knocked down, disarmed, prone) and the registry of their
// definitions. A participant stores effects as a name → value map; this
// package supplies the interpretation rules for those names.
package effect

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Well-known effect IDs applied by the skill resolvers.
const (
	KnockedDown = "knocked_down"
	Disarmed    = "disarmed"
	Prone       = "prone"
)

// Definition is the static definition of a combat effect, loadable from YAML.
type Definition struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	// Value is stored in the bearer's effect map when the effect is applied
	// (e.g. prone carries its -2 to-hit penalty as the value).
	Value int `yaml:"value"`
	// AffectsToHit marks effects whose value modifies the bearer's attack rolls.
	AffectsToHit bool `yaml:"affects_to_hit"`
	// ClearAtRoundEnd marks effects the round loop removes when a round completes.
	ClearAtRoundEnd bool `yaml:"clear_at_round_end"`
}

// Validate checks that the definition satisfies basic invariants.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return fmt.Errorf("effect definition: id must not be empty")
	}
	if d.Name == "" {
		return fmt.Errorf("effect definition %q: name must not be empty", d.ID)
	}
	return nil
}

// Registry holds all known effect Definitions keyed by ID.
type Registry struct {
	defs map[string]*Definition
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]*Definition)}
}

// Builtin returns a Registry pre-populated with the effects the skill
// resolvers apply. Content directories may override these via LoadDirectory.
func Builtin() *Registry {
	r := NewRegistry()
	r.Register(&Definition{
		ID:              KnockedDown,
		Name:            "Knocked Down",
		Description:     "Flattened by a heavy blow; struggling to rise.",
		Value:           1,
		ClearAtRoundEnd: true,
	})
	r.Register(&Definition{
		ID:          Disarmed,
		Name:        "Disarmed",
		Description: "Weapon knocked from their grip.",
		Value:       1,
	})
	r.Register(&Definition{
		ID:              Prone,
		Name:            "Prone",
		Description:     "Sprawled on the ground; attacks suffer.",
		Value:           -2,
		AffectsToHit:    true,
		ClearAtRoundEnd: true,
	})
	return r
}

// Register adds def to the registry, overwriting any existing entry with the
// same ID.
//
// Precondition: def must not be nil and def.ID must not be empty.
func (r *Registry) Register(def *Definition) {
	r.defs[def.ID] = def
}

// Get returns the Definition for id, or (nil, false) if not found.
func (r *Registry) Get(id string) (*Definition, bool) {
	d, ok := r.defs[id]
	return d, ok
}

// All returns a snapshot slice of all registered Definitions.
func (r *Registry) All() []*Definition {
	out := make([]*Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	return out
}

// LoadDirectory reads every *.yaml file in dir, parses each as a Definition,
// and registers it, overriding any builtin with the same ID.
//
// Precondition: dir must be a readable directory.
// Postcondition: Returns nil, or an error naming the first file that failed.
func (r *Registry) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading effect dir %q: %w", dir, err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".yaml") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("reading %q: %w", path, err)
		}
		var def Definition
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&def); err != nil {
			return fmt.Errorf("parsing %q: %w", path, err)
		}
		if err := def.Validate(); err != nil {
			return fmt.Errorf("validating %q: %w", path, err)
		}
		r.Register(&def)
	}
	return nil
}
