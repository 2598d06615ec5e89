package pipeline

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Spec is the pipeline file as written, before validation. Field order
// mirrors the YAML layout; Build turns a Spec into an executable Plan.
type Spec struct {
	Name   string            `yaml:"name"`
	Env    map[string]string `yaml:"env,omitempty"`
	Stages []StageSpec       `yaml:"stages"`
	Post   PostSpec          `yaml:"post,omitempty"`
}

// StageSpec is one stage declaration. Exactly one of Run, Parallel, or Probe
// must be set; Build enforces this.
type StageSpec struct {
	Name      string            `yaml:"name"`
	Run       string            `yaml:"run,omitempty"`
	Parallel  []StageSpec       `yaml:"parallel,omitempty"`
	Probe     *ProbeSpec        `yaml:"probe,omitempty"`
	When      *WhenSpec         `yaml:"when,omitempty"`
	Approval  bool              `yaml:"approval,omitempty"`
	Always    bool              `yaml:"always,omitempty"`
	Artifacts string            `yaml:"artifacts,omitempty"`
	Timeout   string            `yaml:"timeout,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
}

// ProbeSpec declares a readiness probe stage. Token defaults to "ok".
type ProbeSpec struct {
	URL      string `yaml:"url"`
	Token    string `yaml:"token,omitempty"`
	Timeout  string `yaml:"timeout,omitempty"`
	Interval string `yaml:"interval,omitempty"`
}

// PostSpec holds the post-run hooks keyed by outcome.
type PostSpec struct {
	Always  []StageSpec `yaml:"always,omitempty"`
	Success []StageSpec `yaml:"success,omitempty"`
	Failure []StageSpec `yaml:"failure,omitempty"`
}

// WhenSpec is a stage gate predicate. Keys the format does not define are
// kept in Unknown so the gate evaluator can fail closed on them instead of
// running a stage whose condition it never understood.
type WhenSpec struct {
	Branch   string
	Branches []string
	Expr     string
	Unknown  []string
}

// UnmarshalYAML decodes known predicate keys and records the rest.
func (w *WhenSpec) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]yaml.Node
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("decoding when clause: %w", err)
	}

	for key := range raw {
		node := raw[key]
		switch key {
		case "branch":
			if err := node.Decode(&w.Branch); err != nil {
				return fmt.Errorf("decoding when.branch: %w", err)
			}
		case "branches":
			if err := node.Decode(&w.Branches); err != nil {
				return fmt.Errorf("decoding when.branches: %w", err)
			}
		case "expr":
			if err := node.Decode(&w.Expr); err != nil {
				return fmt.Errorf("decoding when.expr: %w", err)
			}
		default:
			w.Unknown = append(w.Unknown, key)
		}
	}
	sort.Strings(w.Unknown)
	return nil
}

// Parse decodes a pipeline spec from YAML.
func Parse(data []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, &MalformedSpecError{Msg: fmt.Sprintf("parsing pipeline: %v", err)}
	}
	return &spec, nil
}

// Load reads and decodes a pipeline file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pipeline file: %w", err)
	}
	return Parse(data)
}
