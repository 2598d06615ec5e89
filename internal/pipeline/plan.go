package pipeline

import (
	"time"

	"github.com/conveyorci/conveyor/internal/gate"
)

// Plan is the validated, executable form of a Spec. It is immutable after
// Build; the executor never writes into it.
type Plan struct {
	Name   string
	Env    map[string]string
	Stages []Stage
	Post   Hooks
}

// Hooks are the validated post-run stages keyed by outcome.
type Hooks struct {
	Always  []Stage
	Success []Stage
	Failure []Stage
}

// Stage is one validated node of the plan. Exactly one of Command, Group, or
// Probe is populated.
type Stage struct {
	Name      string
	Command   string
	Group     []Stage
	Probe     *Probe
	Gate      *gate.Gate
	Approval  bool
	Always    bool
	Artifacts string
	Timeout   time.Duration // zero means the engine default applies
	Env       map[string]string
}

// IsGroup reports whether the stage is a parallel group.
func (s *Stage) IsGroup() bool { return len(s.Group) > 0 }

// Probe is a validated readiness probe. Zero Timeout/Interval mean the
// engine defaults apply.
type Probe struct {
	URL      string
	Token    string
	Timeout  time.Duration
	Interval time.Duration
}

// Build validates a spec and compiles it into a Plan. It has no side
// effects; every defect is reported as a MalformedSpecError before any stage
// could run.
func Build(spec *Spec) (*Plan, error) {
	if spec == nil {
		return nil, malformedf("", "pipeline spec is nil")
	}
	if spec.Name == "" {
		return nil, malformedf("", "pipeline name is required")
	}
	if len(spec.Stages) == 0 {
		return nil, malformedf("", "pipeline has no stages")
	}

	b := &builder{seen: make(map[string]bool)}

	plan := &Plan{
		Name: spec.Name,
		Env:  copyEnv(spec.Env),
	}

	var err error
	if plan.Stages, err = b.buildStages(spec.Stages, false); err != nil {
		return nil, err
	}
	if plan.Post.Always, err = b.buildStages(spec.Post.Always, true); err != nil {
		return nil, err
	}
	if plan.Post.Success, err = b.buildStages(spec.Post.Success, true); err != nil {
		return nil, err
	}
	if plan.Post.Failure, err = b.buildStages(spec.Post.Failure, true); err != nil {
		return nil, err
	}

	return plan, nil
}

type builder struct {
	seen map[string]bool
}

func (b *builder) buildStages(specs []StageSpec, hook bool) ([]Stage, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make([]Stage, 0, len(specs))
	for i := range specs {
		st, err := b.buildStage(&specs[i], false, hook)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (b *builder) buildStage(spec *StageSpec, inGroup, inHook bool) (Stage, error) {
	if spec.Name == "" {
		return Stage{}, malformedf("", "stage name is required")
	}
	if b.seen[spec.Name] {
		return Stage{}, malformedf(spec.Name, "duplicate stage name")
	}
	b.seen[spec.Name] = true

	bodies := 0
	if spec.Run != "" {
		bodies++
	}
	if spec.Parallel != nil {
		bodies++
	}
	if spec.Probe != nil {
		bodies++
	}
	switch {
	case bodies == 0:
		return Stage{}, malformedf(spec.Name, "stage has no runnable body (one of run, parallel, probe)")
	case bodies > 1:
		return Stage{}, malformedf(spec.Name, "stage declares more than one body")
	}

	st := Stage{
		Name:      spec.Name,
		Command:   spec.Run,
		Approval:  spec.Approval,
		Always:    spec.Always,
		Artifacts: spec.Artifacts,
		Env:       copyEnv(spec.Env),
	}

	if spec.Timeout != "" {
		d, err := time.ParseDuration(spec.Timeout)
		if err != nil || d < 0 {
			return Stage{}, malformedf(spec.Name, "invalid timeout %q", spec.Timeout)
		}
		st.Timeout = d
	}

	if spec.Parallel != nil {
		if inGroup {
			return Stage{}, malformedf(spec.Name, "parallel groups cannot be nested")
		}
		if len(spec.Parallel) == 0 {
			return Stage{}, malformedf(spec.Name, "parallel group is empty")
		}
		for i := range spec.Parallel {
			member, err := b.buildStage(&spec.Parallel[i], true, inHook)
			if err != nil {
				return Stage{}, err
			}
			st.Group = append(st.Group, member)
		}
	}

	if spec.Probe != nil {
		probe, err := buildProbe(spec.Name, spec.Probe)
		if err != nil {
			return Stage{}, err
		}
		st.Probe = probe
	}

	if spec.Approval {
		if inGroup {
			return Stage{}, malformedf(spec.Name, "manual approval is not allowed inside a parallel group")
		}
		if inHook {
			return Stage{}, malformedf(spec.Name, "manual approval is not allowed on post-run hooks")
		}
	}

	if spec.When != nil {
		g, err := gate.Compile(gate.Config{
			Branch:   spec.When.Branch,
			Branches: spec.When.Branches,
			Expr:     spec.When.Expr,
			Unknown:  spec.When.Unknown,
		})
		if err != nil {
			return Stage{}, malformedf(spec.Name, "invalid gate: %v", err)
		}
		st.Gate = g
	}

	return st, nil
}

func buildProbe(stage string, spec *ProbeSpec) (*Probe, error) {
	if spec.URL == "" {
		return nil, malformedf(stage, "probe url is required")
	}

	p := &Probe{URL: spec.URL, Token: spec.Token}
	if p.Token == "" {
		p.Token = "ok"
	}

	if spec.Timeout != "" {
		d, err := time.ParseDuration(spec.Timeout)
		if err != nil || d < 0 {
			return nil, malformedf(stage, "invalid probe timeout %q", spec.Timeout)
		}
		p.Timeout = d
	}
	if spec.Interval != "" {
		d, err := time.ParseDuration(spec.Interval)
		if err != nil || d <= 0 {
			return nil, malformedf(stage, "invalid probe interval %q", spec.Interval)
		}
		p.Interval = d
	}

	return p, nil
}

func copyEnv(env map[string]string) map[string]string {
	if len(env) == 0 {
		return nil
	}
	cp := make(map[string]string, len(env))
	for k, v := range env {
		cp[k] = v
	}
	return cp
}
