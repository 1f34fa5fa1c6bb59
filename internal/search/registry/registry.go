// Package registry holds the search parameter definitions and compartment
// memberships the compiler resolves request parameters against.
package registry

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ehr/fhirquery/internal/search"
	"github.com/ehr/fhirquery/internal/search/param"
)

//go:embed default.yaml
var defaultYAML []byte

// file is the YAML layout of a registry.
type file struct {
	ResourceTypes []string                       `yaml:"resource_types"`
	Common        []parameterDef                 `yaml:"common"`
	Parameters    map[string][]parameterDef      `yaml:"parameters"`
	Compartments  map[string]map[string][]string `yaml:"compartments"`
}

type parameterDef struct {
	Code       string   `yaml:"code"`
	Type       string   `yaml:"type"`
	Targets    []string `yaml:"targets,omitempty"`
	Components []string `yaml:"components,omitempty"`
	Canonical  bool     `yaml:"canonical,omitempty"`
}

// Definition is one search parameter of one resource type.
type Definition struct {
	Code         string
	ResourceType string
	Type         param.Type
	// Targets are the resource types a reference parameter may point at.
	Targets []string
	// Components are the codes of a composite's component parameters,
	// defined on the same resource type.
	Components []string
	Canonical  bool
}

// Registry is read-only after construction and safe for concurrent use.
type Registry struct {
	types        []string
	known        map[string]bool
	common       map[string]Definition
	params       map[string]map[string]Definition
	compartments map[string]map[string][]string
}

// Default returns the registry compiled into the binary.
func Default() (*Registry, error) {
	return Parse(defaultYAML)
}

// Load reads a registry file, replacing the embedded defaults.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML registry. Unknown fields, unknown parameter types,
// composites whose components are not defined and references to undeclared
// resource types are rejected.
func Parse(data []byte) (*Registry, error) {
	var f file
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse registry YAML: %w", err)
	}

	r := &Registry{
		known:        make(map[string]bool),
		common:       make(map[string]Definition),
		params:       make(map[string]map[string]Definition),
		compartments: f.Compartments,
	}
	for _, rt := range f.ResourceTypes {
		if r.known[rt] {
			return nil, fmt.Errorf("duplicate resource type %q", rt)
		}
		r.known[rt] = true
		r.types = append(r.types, rt)
	}
	sort.Strings(r.types)

	for _, d := range f.Common {
		def, err := r.definition(search.ResourceTypeAny, d)
		if err != nil {
			return nil, err
		}
		r.common[def.Code] = def
	}
	for rt, defs := range f.Parameters {
		if !r.known[rt] {
			return nil, fmt.Errorf("parameters declared for unknown resource type %q", rt)
		}
		m := make(map[string]Definition, len(defs))
		for _, d := range defs {
			def, err := r.definition(rt, d)
			if err != nil {
				return nil, err
			}
			m[def.Code] = def
		}
		r.params[rt] = m
	}

	if err := r.validate(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) definition(rt string, d parameterDef) (Definition, error) {
	t, ok := param.ParseType(d.Type)
	if !ok {
		return Definition{}, fmt.Errorf("%s.%s: unknown search type %q", rt, d.Code, d.Type)
	}
	if d.Code == "" {
		return Definition{}, fmt.Errorf("%s: parameter without code", rt)
	}
	return Definition{
		Code:         d.Code,
		ResourceType: rt,
		Type:         t,
		Targets:      d.Targets,
		Components:   d.Components,
		Canonical:    d.Canonical,
	}, nil
}

func (r *Registry) validate() error {
	for rt, defs := range r.params {
		for code, def := range defs {
			for _, target := range def.Targets {
				if !r.known[target] {
					return fmt.Errorf("%s.%s: unknown target type %q", rt, code, target)
				}
			}
			if def.Type == param.TypeComposite && len(def.Components) == 0 {
				return fmt.Errorf("%s.%s: composite without components", rt, code)
			}
			for _, comp := range def.Components {
				if _, ok := r.Lookup(rt, comp); !ok {
					return fmt.Errorf("%s.%s: undefined component %q", rt, code, comp)
				}
			}
		}
	}
	for comp, members := range r.compartments {
		if !r.known[comp] {
			return fmt.Errorf("compartment %q: unknown resource type", comp)
		}
		for rt, codes := range members {
			for _, code := range codes {
				def, ok := r.Lookup(rt, code)
				if !ok || def.Type != param.TypeReference {
					return fmt.Errorf("compartment %q: %s.%s is not a reference parameter", comp, rt, code)
				}
			}
		}
	}
	return nil
}

// ResourceTypes returns every declared resource type, sorted by name,
// including the abstract Resource and DomainResource.
func (r *Registry) ResourceTypes() []string {
	return append([]string(nil), r.types...)
}

// HasResourceType reports whether rt is declared.
func (r *Registry) HasResourceType(rt string) bool {
	return r.known[rt]
}

// Lookup resolves code on resourceType. Parameters defined on Resource are
// visible from every type; a search against Resource sees only those.
func (r *Registry) Lookup(resourceType, code string) (Definition, bool) {
	if def, ok := r.params[resourceType][code]; ok {
		return def, true
	}
	def, ok := r.common[code]
	return def, ok
}

// Definitions returns the parameters of resourceType, including the
// common ones, sorted by code.
func (r *Registry) Definitions(resourceType string) []Definition {
	out := make([]Definition, 0, len(r.common)+len(r.params[resourceType]))
	for code, def := range r.common {
		if _, shadowed := r.params[resourceType][code]; !shadowed {
			out = append(out, def)
		}
	}
	for _, def := range r.params[resourceType] {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// CompartmentParams returns the reference parameters linking resourceType
// to a compartment of type compartmentType. ok is false when the type is
// not a member of that compartment.
func (r *Registry) CompartmentParams(compartmentType, resourceType string) (codes []string, ok bool) {
	members, ok := r.compartments[compartmentType]
	if !ok {
		return nil, false
	}
	codes, ok = members[resourceType]
	return codes, ok && len(codes) > 0
}

// ParameterCodes returns every distinct parameter code, sorted.
func (r *Registry) ParameterCodes() []string {
	seen := make(map[string]bool)
	for code := range r.common {
		seen[code] = true
	}
	for _, defs := range r.params {
		for code := range defs {
			seen[code] = true
		}
	}
	codes := make([]string, 0, len(seen))
	for code := range seen {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
