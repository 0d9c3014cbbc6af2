package world

import (
	"fmt"
	"strconv"
)

// Rules are the tunable parameters of the world simulation, adjusted at
// runtime through /levelrule. Field names in the level sidecar and the
// command surface match the rule names below.
type Rules struct {
	// FluidSpread gates the fluid automata entirely.
	FluidSpread bool `json:"fluid_spread"`
	// RandomTickUpdates is how many indices are promoted from the random
	// tick pool to the awaiting set each tick.
	RandomTickUpdates uint64 `json:"random_tick_updates"`
	// GrassSpreadChance is the denominator of the per-candidate chance
	// that grass spreads to (or dies back from) a block each random tick.
	GrassSpreadChance uint64 `json:"grass_spread_chance"`
}

// DefaultRules returns the rule values of a fresh world.
func DefaultRules() Rules {
	return Rules{
		FluidSpread:       true,
		RandomTickUpdates: 1000,
		GrassSpreadChance: 2048,
	}
}

// ruleField is one entry of the closed rule table: a name, a type label
// and typed accessors. The table replaces the runtime reflection the rule
// surface could otherwise require.
type ruleField struct {
	name string
	typ  string
	get  func(*Rules) string
	set  func(*Rules, string) error
}

var ruleFields = []ruleField{
	{
		name: "fluid_spread",
		typ:  "bool",
		get:  func(r *Rules) string { return strconv.FormatBool(r.FluidSpread) },
		set: func(r *Rules, v string) error {
			parsed, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("parse %q as bool", v)
			}
			r.FluidSpread = parsed
			return nil
		},
	},
	{
		name: "random_tick_updates",
		typ:  "u64",
		get:  func(r *Rules) string { return strconv.FormatUint(r.RandomTickUpdates, 10) },
		set: func(r *Rules, v string) error {
			parsed, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("parse %q as u64", v)
			}
			r.RandomTickUpdates = parsed
			return nil
		},
	},
	{
		name: "grass_spread_chance",
		typ:  "u64",
		get:  func(r *Rules) string { return strconv.FormatUint(r.GrassSpreadChance, 10) },
		set: func(r *Rules, v string) error {
			parsed, err := strconv.ParseUint(v, 10, 64)
			if err != nil {
				return fmt.Errorf("parse %q as u64", v)
			}
			r.GrassSpreadChance = parsed
			return nil
		},
	},
}

// RuleNames returns the names of all rules in listing order.
func RuleNames() []string {
	names := make([]string, len(ruleFields))
	for i, f := range ruleFields {
		names[i] = f.name
	}
	return names
}

// Describe returns a rule's value and type, formatted as "value (type)".
func (r *Rules) Describe(name string) (string, error) {
	for _, f := range ruleFields {
		if f.name == name {
			return fmt.Sprintf("%s (%s)", f.get(r), f.typ), nil
		}
	}
	return "", fmt.Errorf("unknown rule: %s", name)
}

// Set parses value against a rule's declared type and assigns it.
func (r *Rules) Set(name, value string) error {
	for _, f := range ruleFields {
		if f.name == name {
			return f.set(r, value)
		}
	}
	return fmt.Errorf("unknown rule: %s", name)
}
