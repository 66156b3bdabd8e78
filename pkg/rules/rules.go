// Package rules loads patch definitions from YAML rule packs.
//
// A rule pack lists plugins, each with its patches:
//
//	plugins:
//	  - name: NoTrack
//	    patches:
//	      - find: ".trackEvent("
//	        replacement:
//	          match_regex: 'trackEvent\((\i)\)'
//	          replace: "void 0"
//
// replacement takes a single mapping or a list of them.
package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/smith-xyz/go-module-patcher/pkg/finder"
	"github.com/smith-xyz/go-module-patcher/pkg/patch"
)

type File struct {
	Plugins []PluginSpec `yaml:"plugins"`
}

type PluginSpec struct {
	Name    string      `yaml:"name"`
	Enabled *bool       `yaml:"enabled"`
	Patches []PatchSpec `yaml:"patches"`
}

type PatchSpec struct {
	ID          string          `yaml:"id"`
	Find        string          `yaml:"find"`
	FindRegex   string          `yaml:"find_regex"`
	FindProps   []string        `yaml:"find_props"`
	All         bool            `yaml:"all"`
	Group       bool            `yaml:"group"`
	NoWarn      bool            `yaml:"no_warn"`
	Replacement ReplacementList `yaml:"replacement"`
}

type ReplacementSpec struct {
	Match      string `yaml:"match"`
	MatchRegex string `yaml:"match_regex"`
	Flags      string `yaml:"flags"`
	Replace    string `yaml:"replace"`
	Optional   bool   `yaml:"optional"`
	Single     bool   `yaml:"single"`
}

// ReplacementList decodes from a mapping or a sequence of mappings.
type ReplacementList []ReplacementSpec

func (l *ReplacementList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.MappingNode:
		var one ReplacementSpec
		if err := value.Decode(&one); err != nil {
			return err
		}
		*l = ReplacementList{one}
		return nil
	case yaml.SequenceNode:
		var many []ReplacementSpec
		if err := value.Decode(&many); err != nil {
			return err
		}
		*l = many
		return nil
	default:
		return fmt.Errorf("line %d: replacement must be a mapping or a list", value.Line)
	}
}

var errEmptyPack = errors.New("rule pack defines no plugins")

// LoadFile reads the rule pack at path.
func LoadFile(path string) ([]patch.Plugin, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	plugins, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plugins, nil
}

// LoadFiles reads rule packs in order and concatenates their plugins.
func LoadFiles(paths ...string) ([]patch.Plugin, error) {
	var all []patch.Plugin
	for _, p := range paths {
		plugins, err := LoadFile(p)
		if err != nil {
			return nil, err
		}
		all = append(all, plugins...)
	}
	return all, nil
}

// Parse decodes a rule pack. Unknown keys are rejected.
func Parse(data []byte) ([]patch.Plugin, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errEmptyPack
		}
		return nil, err
	}
	if len(f.Plugins) == 0 {
		return nil, errEmptyPack
	}

	plugins := make([]patch.Plugin, 0, len(f.Plugins))
	for i, ps := range f.Plugins {
		p, err := ps.build()
		if err != nil {
			return nil, fmt.Errorf("plugin %d (%s): %w", i, ps.Name, err)
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

func (ps PluginSpec) build() (patch.Plugin, error) {
	if ps.Name == "" {
		return patch.Plugin{}, errors.New("missing name")
	}

	var enabled func() bool
	if ps.Enabled != nil {
		on := *ps.Enabled
		enabled = func() bool { return on }
	}

	p := patch.Plugin{Name: ps.Name}
	for i, spec := range ps.Patches {
		def, err := spec.build()
		if err != nil {
			return patch.Plugin{}, fmt.Errorf("patch %d: %w", i, err)
		}
		def.Plugin = ps.Name
		def.Enabled = enabled
		p.Patches = append(p.Patches, def)
	}
	return p, nil
}

func (spec PatchSpec) build() (patch.Definition, error) {
	f, err := spec.finder()
	if err != nil {
		return patch.Definition{}, err
	}

	def := patch.Definition{
		ID:     spec.ID,
		Find:   f,
		All:    spec.All,
		Group:  spec.Group,
		NoWarn: spec.NoWarn,
	}
	for i, r := range spec.Replacement {
		step, err := r.build()
		if err != nil {
			return patch.Definition{}, fmt.Errorf("replacement %d: %w", i, err)
		}
		def.Steps = append(def.Steps, step)
	}
	return def, nil
}

func (spec PatchSpec) finder() (finder.Finder, error) {
	set := 0
	for _, ok := range []bool{spec.Find != "", spec.FindRegex != "", len(spec.FindProps) > 0} {
		if ok {
			set++
		}
	}
	if set != 1 {
		return nil, errors.New("exactly one of find, find_regex or find_props is required")
	}

	switch {
	case spec.FindRegex != "":
		return finder.Regex(spec.FindRegex)
	case len(spec.FindProps) > 0:
		return finder.Props(spec.FindProps...), nil
	default:
		return finder.Raw(spec.Find), nil
	}
}

func (r ReplacementSpec) build() (patch.Step, error) {
	var m patch.Match
	switch {
	case r.Match != "" && r.MatchRegex != "":
		return patch.Step{}, errors.New("match and match_regex are mutually exclusive")
	case r.MatchRegex != "":
		m = patch.Regex(r.MatchRegex)
		m.Flags = r.Flags
	case r.Match != "":
		if r.Flags != "" {
			return patch.Step{}, errors.New("flags require match_regex")
		}
		m = patch.Literal(r.Match)
	default:
		return patch.Step{}, errors.New("match or match_regex is required")
	}

	return patch.Step{
		Match:    m,
		Replace:  patch.Replacement{Template: r.Replace},
		Optional: r.Optional,
		Single:   r.Single,
	}, nil
}
