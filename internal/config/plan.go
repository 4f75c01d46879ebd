package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Plan selects which scenarios run and supplies fixture values.
//
//	groups: [authentication, prompts]   # group names or ids such as "T2"
//	only:   [T2.1, T2.2]
//	skip:   [T6.3]
//	fixtures:
//	  prompt_body: "Summarize {{text}}"
type Plan struct {
	Groups   []string          `yaml:"groups"`
	Only     []string          `yaml:"only"`
	Skip     []string          `yaml:"skip"`
	Fixtures map[string]string `yaml:"fixtures"`
}

// LoadPlan reads a YAML plan file. Unknown keys are rejected.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan %s: %w", path, err)
	}
	return ParsePlan(data)
}

// ParsePlan decodes a YAML plan document.
func ParsePlan(data []byte) (*Plan, error) {
	plan := &Plan{}
	if len(bytes.TrimSpace(data)) == 0 {
		return plan, nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(plan); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	return plan, nil
}

// Empty reports whether the plan selects everything and sets no fixtures.
func (p *Plan) Empty() bool {
	return p == nil || (len(p.Groups) == 0 && len(p.Only) == 0 && len(p.Skip) == 0 && len(p.Fixtures) == 0)
}

// SelectsGroup reports whether the group named name with id prefix groupID
// (e.g. "T2") is in scope.
func (p *Plan) SelectsGroup(groupID, name string) bool {
	if p == nil || len(p.Groups) == 0 {
		return true
	}
	for _, g := range p.Groups {
		if strings.EqualFold(g, groupID) || strings.EqualFold(g, name) {
			return true
		}
	}
	return false
}

// SelectsScenario reports whether scenario id is in scope. Skip wins over
// Only.
func (p *Plan) SelectsScenario(id string) bool {
	if p == nil {
		return true
	}
	if contains(p.Skip, id) {
		return false
	}
	if len(p.Only) > 0 {
		return contains(p.Only, id)
	}
	return true
}

// Fixture returns the fixture value for key, or def.
func (p *Plan) Fixture(key, def string) string {
	if p == nil {
		return def
	}
	if v, ok := p.Fixtures[key]; ok && v != "" {
		return v
	}
	return def
}

// Describe renders the selection for the startup summary.
func (p *Plan) Describe() string {
	var parts []string
	if len(p.Groups) > 0 {
		parts = append(parts, "groups="+strings.Join(p.Groups, ","))
	}
	if len(p.Only) > 0 {
		parts = append(parts, "only="+strings.Join(p.Only, ","))
	}
	if len(p.Skip) > 0 {
		parts = append(parts, "skip="+strings.Join(p.Skip, ","))
	}
	if len(p.Fixtures) > 0 {
		parts = append(parts, fmt.Sprintf("fixtures=%d", len(p.Fixtures)))
	}
	return strings.Join(parts, " ")
}

func (p *Plan) validate() []string {
	var errs []string
	for _, list := range []struct {
		name  string
		items []string
	}{{"groups", p.Groups}, {"only", p.Only}, {"skip", p.Skip}} {
		for _, item := range list.items {
			if strings.TrimSpace(item) == "" {
				errs = append(errs, fmt.Sprintf("plan %s contains an empty entry", list.name))
				break
			}
		}
	}
	for _, id := range p.Only {
		if contains(p.Skip, id) {
			errs = append(errs, fmt.Sprintf("plan lists %s in both only and skip", id))
		}
	}
	return errs
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if strings.EqualFold(strings.TrimSpace(item), want) {
			return true
		}
	}
	return false
}
