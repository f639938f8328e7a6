package migrate

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/lifesync/lifesync/internal/record"
)

// PlanFile declares migration edges without code, for use from the CLI.
//
//	default_from: v1
//	target: v2
//	paths:
//	  - from: v1
//	    to: v2
//	    require: [text]
//	    rename: {text: body}
//	    set: {format: markdown}
//	    remove: [legacy]
type PlanFile struct {
	DefaultFrom string     `yaml:"default_from"`
	Target      string     `yaml:"target"`
	Paths       []PathSpec `yaml:"paths"`
}

// PathSpec is one declarative edge. Steps run in the order remove, rename,
// set.
type PathSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`

	// Require lists keys that must be present for the input to be valid.
	Require []string          `yaml:"require"`
	Remove  []string          `yaml:"remove"`
	Rename  map[string]string `yaml:"rename"`
	Set     map[string]any    `yaml:"set"`
}

// ReadPlanFile parses a YAML plan.
func ReadPlanFile(r io.Reader) (*PlanFile, error) {
	var pf PlanFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&pf); err != nil {
		return nil, fmt.Errorf("failed to parse migration plan: %w", err)
	}
	if len(pf.Paths) == 0 {
		return nil, fmt.Errorf("%w: plan declares no paths", ErrInvalidPath)
	}
	return &pf, nil
}

// LoadPlanFile reads a YAML plan from path.
func LoadPlanFile(path string) (*PlanFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open migration plan: %w", err)
	}
	defer f.Close()
	return ReadPlanFile(f)
}

// Register adds every declared edge to m, in file order.
func (pf *PlanFile) Register(m *Manager) error {
	for i, ps := range pf.Paths {
		if err := m.Register(ps.Path()); err != nil {
			return fmt.Errorf("path %d: %w", i+1, err)
		}
	}
	return nil
}

// Path builds the edge described by s.
func (s PathSpec) Path() Path {
	p := Path{From: s.From, To: s.To, Transform: s.transform}
	if len(s.Require) > 0 {
		p.Validate = s.validate
	}
	return p
}

func (s PathSpec) validate(d Dataset) bool {
	for _, key := range s.Require {
		if _, ok := d[key]; !ok {
			return false
		}
	}
	return true
}

func (s PathSpec) transform(d Dataset) (Dataset, error) {
	out := record.ClonePayload(d)
	if out == nil {
		out = Dataset{}
	}
	for _, key := range s.Remove {
		delete(out, key)
	}
	froms := make([]string, 0, len(s.Rename))
	for from := range s.Rename {
		froms = append(froms, from)
	}
	sort.Strings(froms)
	for _, from := range froms {
		to := s.Rename[from]
		v, ok := out[from]
		if !ok {
			continue
		}
		if _, taken := out[to]; taken {
			return nil, fmt.Errorf("cannot rename %q to %q: key exists", from, to)
		}
		delete(out, from)
		out[to] = v
	}
	for key, v := range s.Set {
		out[key] = normalizeYAML(v)
	}
	return out, nil
}

// normalizeYAML turns decoded YAML values into the shapes encoding/json
// produces, so checksums match after a JSON round trip.
func normalizeYAML(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case uint64:
		return float64(val)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalizeYAML(e)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalizeYAML(e)
		}
		return out
	default:
		return val
	}
}
